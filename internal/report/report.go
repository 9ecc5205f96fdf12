// Package report joins a merged profile with a coverage mapping and
// produces per-file line, branch and function coverage.
package report

import (
	"fmt"
	"sort"

	"github.com/covparse/pkg/filter"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/utils"

	apperrors "github.com/covparse/pkg/errors"
)

// maxLineSpan bounds how many lines one region may cover. Hostile
// mapping data must not force per-line state for billions of lines.
const maxLineSpan = 1 << 20

// Options configures report building.
type Options struct {
	// Logger receives build diagnostics. Defaults to NullLogger.
	Logger utils.Logger
	// Filter drops source files before aggregation. Nil keeps all.
	Filter *filter.FileFilter
	// Remaps rewrite build-machine path prefixes to local ones before
	// filtering and aggregation. The first matching remap wins.
	Remaps []*filter.PathRemap
}

// Builder turns profiles plus mappings into coverage reports.
type Builder struct {
	opts *Options
}

// NewBuilder creates a report builder. A nil opts uses defaults.
func NewBuilder(opts *Options) *Builder {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	return &Builder{opts: opts}
}

// lineState accumulates the regions covering one source line.
type lineState struct {
	codeMax uint64
	hasCode bool
	gapMax  uint64
	hasGap  bool
}

// fileAccum accumulates one file's coverage before sorting.
type fileAccum struct {
	lines     map[uint64]*lineState
	branches  []model.BranchCoverage
	functions []model.FunctionCoverage
	regions   []model.RegionCoverage
}

// Build evaluates every mapped function against the profile. A
// function missing from the profile reports as entirely uncovered.
func (b *Builder) Build(profile *model.InstrumentationProfile, mapping *model.CoverageMapping) (*model.CoverageReport, error) {
	files := make(map[string]*fileAccum)

	for i := range mapping.Functions {
		fn := &mapping.Functions[i]
		if err := b.addFunction(profile, fn, files); err != nil {
			return nil, err
		}
	}

	report := &model.CoverageReport{}
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		report.Files = append(report.Files, files[path].finish(path))
	}
	b.opts.Logger.Debug("built coverage report: files=%d functions=%d", len(report.Files), len(mapping.Functions))
	return report, nil
}

// addFunction evaluates one function's regions into the per-file
// accumulators.
func (b *Builder) addFunction(profile *model.InstrumentationProfile, fn *model.FunctionRecord, files map[string]*fileAccum) error {
	counts := b.lookupCounts(profile, fn)
	eval := newEvaluator(fn, counts)

	var fnCov *model.FunctionCoverage
	for _, region := range fn.Regions {
		if region.FileID >= uint64(len(fn.Filenames)) {
			return apperrors.FormatErrorf("region references file %d of %d", region.FileID, len(fn.Filenames))
		}
		path := b.remapPath(fn.Filenames[region.FileID])
		if b.opts.Filter != nil && !b.opts.Filter.Accept(path) {
			continue
		}
		acc := files[path]
		if acc == nil {
			acc = &fileAccum{lines: make(map[uint64]*lineState)}
			files[path] = acc
		}

		value, err := eval.value(region.Count)
		if err != nil {
			return err
		}
		var falseValue uint64
		if region.Kind == model.RegionBranch {
			falseValue, err = eval.value(region.FalseCount)
			if err != nil {
				return err
			}
		}

		acc.regions = append(acc.regions, model.RegionCoverage{
			Kind:        region.Kind,
			LineStart:   region.LineStart,
			ColumnStart: region.ColumnStart,
			LineEnd:     region.LineEnd,
			ColumnEnd:   region.ColumnEnd,
			Count:       value,
			FalseCount:  falseValue,
		})

		if fnCov == nil && region.Kind != model.RegionSkipped {
			fnCov = &model.FunctionCoverage{
				Name:    functionName(fn),
				Line:    region.LineStart,
				Hits:    value,
				Regions: len(fn.Regions),
			}
			acc.functions = append(acc.functions, *fnCov)
		}

		switch region.Kind {
		case model.RegionSkipped:
			// Skipped source stays in the region list but never
			// contributes line counts.
			continue
		case model.RegionBranch:
			acc.branches = append(acc.branches, model.BranchCoverage{
				Line:     region.LineStart,
				Column:   region.ColumnStart,
				Taken:    value,
				NotTaken: falseValue,
			})
			continue
		}

		if region.LineEnd-region.LineStart > maxLineSpan {
			return apperrors.FormatErrorf("region spans %d lines, limit is %d", region.LineEnd-region.LineStart, uint64(maxLineSpan))
		}
		for line := region.LineStart; line <= region.LineEnd; line++ {
			ls := acc.lines[line]
			if ls == nil {
				ls = &lineState{}
				acc.lines[line] = ls
			}
			if region.Kind == model.RegionGap {
				ls.hasGap = true
				if value > ls.gapMax {
					ls.gapMax = value
				}
			} else {
				// Code and expansion regions both count; a line's hits
				// are the maximum across them.
				ls.hasCode = true
				if value > ls.codeMax {
					ls.codeMax = value
				}
			}
		}
	}
	return nil
}

// remapPath rewrites a mapping path recorded on the build machine to
// its local equivalent.
func (b *Builder) remapPath(path string) string {
	for _, remap := range b.opts.Remaps {
		if mapped, ok := remap.Rewrite(path); ok {
			return mapped
		}
	}
	return path
}

// lookupCounts finds the function's profile counters. A nil return
// means the function never ran and evaluates to all zeros.
func (b *Builder) lookupCounts(profile *model.InstrumentationProfile, fn *model.FunctionRecord) []uint64 {
	if profile == nil {
		return nil
	}
	if rec, ok := profile.FindRecord(fn.Key()); ok {
		return rec.Counts
	}
	// The mapping may lack the name when no resolver was wired; the
	// profile's own symbol table can still supply it.
	if fn.Name == "" {
		if name, ok := profile.Symtab[fn.NameHash]; ok {
			if rec, ok := profile.FindRecord(model.RecordKey{Name: name, Hash: fn.Hash}); ok {
				return rec.Counts
			}
		}
	}
	return nil
}

func functionName(fn *model.FunctionRecord) string {
	if fn.Name != "" {
		return fn.Name
	}
	return fmt.Sprintf("0x%016x", fn.NameHash)
}

func (acc *fileAccum) finish(path string) model.FileCoverage {
	fc := model.FileCoverage{Path: path}

	lines := make([]uint64, 0, len(acc.lines))
	for line := range acc.lines {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })
	for _, line := range lines {
		ls := acc.lines[line]
		hits := ls.codeMax
		// A gap-only line takes the gap count; otherwise gaps are
		// ignored so closing braces do not mask real counts.
		if !ls.hasCode && ls.hasGap {
			hits = ls.gapMax
		}
		fc.Lines = append(fc.Lines, model.LineCoverage{Line: line, Hits: hits})
	}

	sort.Slice(acc.branches, func(i, j int) bool {
		if acc.branches[i].Line != acc.branches[j].Line {
			return acc.branches[i].Line < acc.branches[j].Line
		}
		return acc.branches[i].Column < acc.branches[j].Column
	})
	fc.Branches = acc.branches

	sort.Slice(acc.functions, func(i, j int) bool { return acc.functions[i].Line < acc.functions[j].Line })
	fc.Functions = acc.functions

	sort.Slice(acc.regions, func(i, j int) bool {
		if acc.regions[i].LineStart != acc.regions[j].LineStart {
			return acc.regions[i].LineStart < acc.regions[j].LineStart
		}
		return acc.regions[i].ColumnStart < acc.regions[j].ColumnStart
	})
	fc.Regions = acc.regions
	return fc
}

// exprState tracks expression evaluation for memoization and cycle
// detection.
type exprState int

const (
	exprUnvisited exprState = iota
	exprInProgress
	exprDone
)

// evaluator computes counter reference values for one function with
// memoized expression evaluation. Intermediates are signed and may go
// negative; only the value reported for a region clamps at zero, so a
// subtraction skewed by a stale profile still cancels correctly inside
// an enclosing addition.
type evaluator struct {
	fn     *model.FunctionRecord
	counts []uint64
	state  []exprState
	memo   []int64
}

func newEvaluator(fn *model.FunctionRecord, counts []uint64) *evaluator {
	return &evaluator{
		fn:     fn,
		counts: counts,
		state:  make([]exprState, len(fn.Expressions)),
		memo:   make([]int64, len(fn.Expressions)),
	}
}

// value evaluates a counter reference to its final non-negative count.
func (e *evaluator) value(ref model.CounterRef) (uint64, error) {
	v, err := e.eval(ref)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, nil
	}
	return uint64(v), nil
}

func (e *evaluator) eval(ref model.CounterRef) (int64, error) {
	switch ref.Kind {
	case model.CounterKindZero:
		return 0, nil
	case model.CounterKindCounterRef:
		if e.counts == nil {
			return 0, nil
		}
		if ref.ID >= uint64(len(e.counts)) {
			return 0, apperrors.LookupErrorf(
				"function %s references counter %d, record has %d",
				functionName(e.fn), ref.ID, len(e.counts))
		}
		return int64(e.counts[ref.ID]), nil
	case model.CounterKindExpressionRef:
		return e.evalExpr(ref.ID)
	}
	return 0, apperrors.FormatErrorf("unknown counter reference kind %d", ref.Kind)
}

func (e *evaluator) evalExpr(id uint64) (int64, error) {
	if id >= uint64(len(e.fn.Expressions)) {
		return 0, apperrors.LookupErrorf(
			"function %s references expression %d, table has %d",
			functionName(e.fn), id, len(e.fn.Expressions))
	}
	switch e.state[id] {
	case exprDone:
		return e.memo[id], nil
	case exprInProgress:
		return 0, apperrors.FormatErrorf(
			"function %s: expression %d participates in a cycle",
			functionName(e.fn), id)
	}
	e.state[id] = exprInProgress

	expr := e.fn.Expressions[id]
	lhs, err := e.eval(expr.LHS)
	if err != nil {
		return 0, err
	}
	rhs, err := e.eval(expr.RHS)
	if err != nil {
		return 0, err
	}

	var v int64
	if expr.Op == model.ExprSubtract {
		v = lhs - rhs
	} else {
		v = lhs + rhs
	}
	e.state[id] = exprDone
	e.memo[id] = v
	return v, nil
}
