package textprof

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/covparse/pkg/model"
)

// Writer renders a profile in the text format Parse accepts, so merged
// profiles can be written back out and re-read or hand-edited.
type Writer struct{}

// NewWriter creates a text profile writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write renders the profile. Records appear in insertion order.
func (w *Writer) Write(profile *model.InstrumentationProfile, out io.Writer) error {
	bw := bufio.NewWriter(out)

	if profile.IsIR {
		fmt.Fprintln(bw, "# IR level Instrumentation Flag")
		fmt.Fprintln(bw, ":ir")
	}
	if profile.HasCSIR {
		fmt.Fprintln(bw, "# CSIR level Instrumentation Flag")
		fmt.Fprintln(bw, ":csir")
	}
	if profile.IsEntryFirst {
		fmt.Fprintln(bw, "# Always instrument the function entry block")
		fmt.Fprintln(bw, ":entry_first")
	}

	for _, rec := range profile.Records() {
		if err := writeRecord(bw, rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteToFile renders the profile to a file.
func (w *Writer) WriteToFile(profile *model.InstrumentationProfile, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := w.Write(profile, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeRecord(bw *bufio.Writer, rec *model.NamedRecord) error {
	fmt.Fprintln(bw, rec.Name)
	fmt.Fprintln(bw, "# Func Hash:")
	fmt.Fprintln(bw, rec.Hash)
	fmt.Fprintln(bw, "# Num Counters:")
	fmt.Fprintln(bw, len(rec.Counts))
	fmt.Fprintln(bw, "# Counter Values:")
	for _, c := range rec.Counts {
		fmt.Fprintln(bw, c)
	}

	if rec.ValueData != nil {
		if err := writeValueProfile(bw, rec.ValueData); err != nil {
			return err
		}
	}

	_, err := bw.WriteString("\n")
	return err
}

func writeValueProfile(bw *bufio.Writer, vp *model.ValueProfData) error {
	kinds := 0
	if len(vp.IndirectCallSites) > 0 {
		kinds++
	}
	if len(vp.MemOpSizes) > 0 {
		kinds++
	}
	if kinds == 0 {
		return nil
	}

	fmt.Fprintln(bw, "# Num Value Kinds:")
	fmt.Fprintln(bw, kinds)

	if len(vp.IndirectCallSites) > 0 {
		fmt.Fprintln(bw, "# ValueKind = IPVK_IndirectCallTarget:")
		fmt.Fprintln(bw, int(model.ValueKindIndirectCallTarget))
		writeSites(bw, vp.IndirectCallSites)
	}
	if len(vp.MemOpSizes) > 0 {
		fmt.Fprintln(bw, "# ValueKind = IPVK_MemOPSize:")
		fmt.Fprintln(bw, int(model.ValueKindMemOpSize))
		writeSites(bw, vp.MemOpSizes)
	}
	return nil
}

func writeSites(bw *bufio.Writer, sites []model.ValueSite) {
	fmt.Fprintln(bw, "# NumValueSites:")
	fmt.Fprintln(bw, len(sites))
	for _, site := range sites {
		fmt.Fprintln(bw, len(site))
		for _, v := range site {
			// Values are written numerically. Indirect call targets stay
			// as name hashes, which Parse passes through unchanged.
			fmt.Fprintf(bw, "%d:%d\n", v.Value, v.Count)
		}
	}
}
