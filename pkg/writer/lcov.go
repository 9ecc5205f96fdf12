package writer

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/covparse/pkg/model"
)

// LCOVWriter renders a coverage report in the LCOV trace file format
// understood by genhtml and most coverage dashboards.
type LCOVWriter struct {
	// TestName fills the optional TN field at the start of each record.
	TestName string
}

// NewLCOVWriter creates an LCOV writer with an empty test name.
func NewLCOVWriter() *LCOVWriter {
	return &LCOVWriter{}
}

// Write renders the report to the writer.
func (w *LCOVWriter) Write(report *model.CoverageReport, out io.Writer) error {
	bw := bufio.NewWriter(out)
	for i := range report.Files {
		if err := w.writeFile(&report.Files[i], bw); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (w *LCOVWriter) writeFile(file *model.FileCoverage, bw *bufio.Writer) error {
	fmt.Fprintf(bw, "TN:%s\n", w.TestName)
	fmt.Fprintf(bw, "SF:%s\n", file.Path)

	for _, fn := range file.Functions {
		fmt.Fprintf(bw, "FN:%d,%s\n", fn.Line, fn.Name)
	}
	for _, fn := range file.Functions {
		fmt.Fprintf(bw, "FNDA:%d,%s\n", fn.Hits, fn.Name)
	}
	if len(file.Functions) > 0 {
		hit := 0
		for _, fn := range file.Functions {
			if fn.Hits > 0 {
				hit++
			}
		}
		fmt.Fprintf(bw, "FNF:%d\n", len(file.Functions))
		fmt.Fprintf(bw, "FNH:%d\n", hit)
	}

	for i, br := range file.Branches {
		// Block number is unused by consumers; branch index keeps pairs
		// distinct on the same line.
		taken := fmt.Sprintf("%d", br.Taken)
		notTaken := fmt.Sprintf("%d", br.NotTaken)
		fmt.Fprintf(bw, "BRDA:%d,0,%d,%s\n", br.Line, i*2, taken)
		fmt.Fprintf(bw, "BRDA:%d,0,%d,%s\n", br.Line, i*2+1, notTaken)
	}
	if len(file.Branches) > 0 {
		total := len(file.Branches) * 2
		hit := 0
		for _, br := range file.Branches {
			if br.Taken > 0 {
				hit++
			}
			if br.NotTaken > 0 {
				hit++
			}
		}
		fmt.Fprintf(bw, "BRF:%d\n", total)
		fmt.Fprintf(bw, "BRH:%d\n", hit)
	}

	for _, line := range file.Lines {
		fmt.Fprintf(bw, "DA:%d,%d\n", line.Line, line.Hits)
	}
	fmt.Fprintf(bw, "LF:%d\n", len(file.Lines))
	fmt.Fprintf(bw, "LH:%d\n", file.LinesCovered())

	_, err := bw.WriteString("end_of_record\n")
	return err
}

// WriteToFile renders the report to a file.
func (w *LCOVWriter) WriteToFile(report *model.CoverageReport, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return w.Write(report, file)
}
