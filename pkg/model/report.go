package model

// LineCoverage is the aggregated execution count for one source line.
type LineCoverage struct {
	Line uint64 `json:"line"`
	Hits uint64 `json:"hits"`
}

// BranchCoverage is one branch region's taken and not-taken counts.
type BranchCoverage struct {
	Line     uint64 `json:"line"`
	Column   uint64 `json:"column"`
	Taken    uint64 `json:"taken"`
	NotTaken uint64 `json:"not_taken"`
}

// FunctionCoverage summarizes one function within a file.
type FunctionCoverage struct {
	Name    string `json:"name"`
	Line    uint64 `json:"line"`
	Hits    uint64 `json:"hits"`
	Regions int    `json:"regions"`
}

// RegionCoverage is one mapping region with its resolved count. Every
// region kind is retained, including gap and skipped regions, so
// consumers can tell unexecuted code apart from code the compiler
// excluded.
type RegionCoverage struct {
	Kind        RegionKind `json:"kind"`
	LineStart   uint64     `json:"line_start"`
	ColumnStart uint64     `json:"column_start,omitempty"`
	LineEnd     uint64     `json:"line_end"`
	ColumnEnd   uint64     `json:"column_end,omitempty"`
	Count       uint64     `json:"count"`
	FalseCount  uint64     `json:"false_count,omitempty"`
}

// FileCoverage is the per-file view of a coverage report.
type FileCoverage struct {
	Path      string             `json:"path"`
	Lines     []LineCoverage     `json:"lines"`
	Branches  []BranchCoverage   `json:"branches,omitempty"`
	Functions []FunctionCoverage `json:"functions,omitempty"`
	Regions   []RegionCoverage   `json:"regions,omitempty"`
}

// LinesCovered counts lines with at least one hit.
func (f *FileCoverage) LinesCovered() int {
	n := 0
	for _, l := range f.Lines {
		if l.Hits > 0 {
			n++
		}
	}
	return n
}

// LineRate returns covered/total for the file, or 0 for an empty file.
func (f *FileCoverage) LineRate() float64 {
	if len(f.Lines) == 0 {
		return 0
	}
	return float64(f.LinesCovered()) / float64(len(f.Lines))
}

// CoverageReport is the final artifact combining mapping and profile
// data, organized per source file.
type CoverageReport struct {
	Files []FileCoverage `json:"files"`
}

// File returns the entry for path, if present.
func (r *CoverageReport) File(path string) (*FileCoverage, bool) {
	for i := range r.Files {
		if r.Files[i].Path == path {
			return &r.Files[i], true
		}
	}
	return nil, false
}

// TotalLineRate returns covered/total across all files.
func (r *CoverageReport) TotalLineRate() float64 {
	covered, total := 0, 0
	for i := range r.Files {
		covered += r.Files[i].LinesCovered()
		total += len(r.Files[i].Lines)
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}
