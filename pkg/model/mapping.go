package model

// CounterKind discriminates the reference forms a mapping region can
// carry: nothing, a physical counter slot, or an expression node.
type CounterKind int

const (
	CounterKindZero CounterKind = iota
	CounterKindCounterRef
	CounterKindExpressionRef
)

// CounterRef points at the source of a region's execution count.
type CounterRef struct {
	Kind CounterKind `json:"kind"`
	// ID indexes the record's counter array for CounterKindCounterRef,
	// or the unit's expression table for CounterKindExpressionRef.
	ID uint64 `json:"id,omitempty"`
}

// Zero returns the canonical always-zero counter reference.
func Zero() CounterRef { return CounterRef{Kind: CounterKindZero} }

// Counter returns a reference to physical counter slot id.
func Counter(id uint64) CounterRef {
	return CounterRef{Kind: CounterKindCounterRef, ID: id}
}

// ExpressionRef returns a reference to expression table entry id.
func ExpressionRef(id uint64) CounterRef {
	return CounterRef{Kind: CounterKindExpressionRef, ID: id}
}

// IsZero reports whether the reference is the zero counter.
func (c CounterRef) IsZero() bool { return c.Kind == CounterKindZero }

// ExprOp is the operator of a counter expression node.
type ExprOp int

const (
	ExprAdd ExprOp = iota
	ExprSubtract
)

// Expression is one node of a unit's shared expression table. Operands
// may reference counters or further expressions, forming a DAG; cycles
// are a format defect detected at evaluation time.
type Expression struct {
	Op  ExprOp     `json:"op"`
	LHS CounterRef `json:"lhs"`
	RHS CounterRef `json:"rhs"`
}

// RegionKind classifies a source mapping region.
type RegionKind int

const (
	// RegionCode is an ordinary executable span.
	RegionCode RegionKind = iota
	// RegionExpansion marks a macro expansion into another file.
	RegionExpansion
	// RegionSkipped marks source excluded from compilation.
	RegionSkipped
	// RegionGap covers filler between statements; its count applies to
	// a line only when no other region covers that line.
	RegionGap
	// RegionBranch carries a (taken, not-taken) counter pair.
	RegionBranch
)

// Region is one source span with its counter reference, in file-local
// coordinates. Line and column numbers are 1-based; LineEnd/ColumnEnd
// are inclusive. A region spanning whole lines has ColumnStart and
// ColumnEnd of 0.
type Region struct {
	Kind           RegionKind `json:"kind"`
	Count          CounterRef `json:"count"`
	FalseCount     CounterRef `json:"false_count,omitempty"`
	FileID         uint64     `json:"file_id"`
	ExpandedFileID uint64     `json:"expanded_file_id,omitempty"`
	LineStart      uint64     `json:"line_start"`
	ColumnStart    uint64     `json:"column_start"`
	LineEnd        uint64     `json:"line_end"`
	ColumnEnd      uint64     `json:"column_end"`
}

// FunctionRecord is one function's decoded mapping: its identity, the
// source files it touches, its expression table, and its regions.
type FunctionRecord struct {
	Name      string   `json:"name,omitempty"`
	NameHash  uint64   `json:"name_hash"`
	Hash      uint64   `json:"hash"`
	Filenames []string `json:"filenames"`

	Expressions []Expression `json:"expressions,omitempty"`
	Regions     []Region     `json:"regions"`
}

// Key returns the record's merge identity for profile lookup. Name may
// be empty when the profile's symbol table had no entry for NameHash.
func (f *FunctionRecord) Key() RecordKey {
	return RecordKey{Name: f.Name, Hash: f.Hash}
}

// CoverageMapping is the decoded contents of an object file's coverage
// sections: the global filename tables keyed by their section offset
// and every function record extracted from the function records
// section.
type CoverageMapping struct {
	// Version is the mapping format version shared by all units read
	// from one object.
	Version uint32 `json:"version"`

	// Functions holds every successfully decoded function record, with
	// filename references already resolved.
	Functions []FunctionRecord `json:"functions"`

	// SkippedFunctions counts records dropped under lenient decoding.
	SkippedFunctions int `json:"skipped_functions,omitempty"`

	// CompilationDir is the build working directory recorded by mapping
	// units that carry one. Empty for older format versions.
	CompilationDir string `json:"compilation_dir,omitempty"`
}

// FilenameSet returns the deduplicated set of filenames referenced by
// any function, preserving first-seen order.
func (m *CoverageMapping) FilenameSet() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range m.Functions {
		for _, f := range m.Functions[i].Filenames {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}
