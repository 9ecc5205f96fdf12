// Package merge combines instrumentation profiles. Records are
// matched by name and structural hash jointly, counters add with
// saturation, and the pairwise fold is associative and commutative so
// inputs can be combined in any grouping, including in parallel.
package merge

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/covparse/pkg/codec"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/parallel"
	"github.com/covparse/pkg/utils"

	apperrors "github.com/covparse/pkg/errors"
)

// Options configures a Merger.
type Options struct {
	// Logger receives merge diagnostics. Defaults to NullLogger.
	Logger utils.Logger
	// Pool configures parallel merging. Defaults to DefaultPoolConfig.
	Pool *parallel.PoolConfig
}

// Merger merges profiles. Each Merger owns a name hash cache, so one
// invocation never recomputes MD5 hashes across folds and concurrent
// merges never share state.
type Merger struct {
	opts *Options

	mu        sync.Mutex
	nameCache map[string]uint64
}

// NewMerger creates a Merger. A nil opts uses defaults.
func NewMerger(opts *Options) *Merger {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	return &Merger{
		opts:      opts,
		nameCache: make(map[string]uint64),
	}
}

// hashName returns the cached MD5 name hash. The lock keeps the cache
// safe under MergeParallel.
func (m *Merger) hashName(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.nameCache[name]; ok {
		return h
	}
	h := codec.NameHash(name)
	m.nameCache[name] = h
	return h
}

// Merge folds the profiles pairwise, left to right. Zero profiles
// yield an empty profile; one profile is cloned.
func (m *Merger) Merge(ctx context.Context, profiles ...*model.InstrumentationProfile) (*model.InstrumentationProfile, error) {
	if len(profiles) == 0 {
		return model.NewInstrumentationProfile(), nil
	}
	out := cloneProfile(profiles[0])
	for _, p := range profiles[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		merged, err := m.MergePair(out, p)
		if err != nil {
			return nil, err
		}
		out = merged
	}
	return out, nil
}

// MergeParallel folds the profiles with a tree reduction. Each
// combine owns both of its inputs exclusively, which the pairwise
// associativity and commutativity make safe.
func (m *Merger) MergeParallel(ctx context.Context, profiles []*model.InstrumentationProfile) (*model.InstrumentationProfile, error) {
	if len(profiles) == 0 {
		return model.NewInstrumentationProfile(), nil
	}
	if len(profiles) == 1 {
		return cloneProfile(profiles[0]), nil
	}

	cfg := parallel.DefaultPoolConfig()
	if m.opts.Pool != nil {
		cfg = *m.opts.Pool
	}

	// Clone the leaves so reduction mutates only merger-owned copies.
	owned := make([]*model.InstrumentationProfile, len(profiles))
	for i, p := range profiles {
		owned[i] = cloneProfile(p)
	}

	return parallel.TreeReduce(ctx, owned, cfg,
		func(ctx context.Context, a, b *model.InstrumentationProfile) (*model.InstrumentationProfile, error) {
			return m.mergeInto(a, b)
		})
}

// MergePair merges two profiles into a new one, leaving both inputs
// untouched.
func (m *Merger) MergePair(a, b *model.InstrumentationProfile) (*model.InstrumentationProfile, error) {
	return m.mergeInto(cloneProfile(a), b)
}

// mergeInto merges b into dst. dst must be exclusively owned by the
// caller; b is only read.
func (m *Merger) mergeInto(dst, b *model.InstrumentationProfile) (*model.InstrumentationProfile, error) {
	if b.Version > dst.Version {
		dst.Version = b.Version
	}
	dst.IsIR = dst.IsIR || b.IsIR
	dst.HasCSIR = dst.HasCSIR || b.HasCSIR
	dst.IsEntryFirst = dst.IsEntryFirst || b.IsEntryFirst
	dst.IsByteCoverage = dst.IsByteCoverage || b.IsByteCoverage
	dst.FnEntryOnly = dst.FnEntryOnly || b.FnEntryOnly
	dst.MemoryProfiling = dst.MemoryProfiling || b.MemoryProfiling

	for hash, name := range b.Symtab {
		dst.AddSymbol(hash, name)
	}

	for _, rec := range b.Records() {
		existing, ok := dst.FindRecord(rec.Key())
		if !ok {
			clone := rec.Clone()
			dst.PushRecord(clone)
			dst.AddSymbol(m.hashName(clone.Name), clone.Name)
			continue
		}
		if err := mergeRecord(existing, rec); err != nil {
			return nil, err
		}
	}

	dst.Summary = mergeSummary(dst.Summary, b.Summary)
	dst.CSSummary = mergeSummary(dst.CSSummary, b.CSSummary)
	return dst, nil
}

// mergeRecord adds src's counters and value data into dst. Both
// records share a RecordKey.
func mergeRecord(dst, src *model.NamedRecord) error {
	if len(dst.Counts) != len(src.Counts) {
		return apperrors.MergeErrorf(
			"function %s (hash %#x): counter length mismatch: %d vs %d",
			dst.Name, dst.Hash, len(dst.Counts), len(src.Counts))
	}
	for i, c := range src.Counts {
		dst.Counts[i] = saturatingAdd(dst.Counts[i], c)
	}

	if src.ValueData == nil {
		return nil
	}
	if dst.ValueData == nil {
		dst.ValueData = src.ValueData.Clone()
		return nil
	}
	dst.ValueData.IndirectCallSites = mergeSiteLists(dst.ValueData.IndirectCallSites, src.ValueData.IndirectCallSites)
	dst.ValueData.MemOpSizes = mergeSiteLists(dst.ValueData.MemOpSizes, src.ValueData.MemOpSizes)
	return nil
}

// mergeSiteLists merges per-site value lists positionally. A longer
// list keeps its tail sites.
func mergeSiteLists(dst, src []model.ValueSite) []model.ValueSite {
	for len(dst) < len(src) {
		dst = append(dst, nil)
	}
	for i := range src {
		dst[i] = mergeSite(dst[i], src[i])
	}
	return dst
}

// mergeSite unions two sites by value: counts for equal values add
// with saturation, and the result stays value-sorted.
func mergeSite(a, b model.ValueSite) model.ValueSite {
	byValue := make(map[uint64]uint64, len(a)+len(b))
	for _, v := range a {
		byValue[v.Value] = saturatingAdd(byValue[v.Value], v.Count)
	}
	for _, v := range b {
		byValue[v.Value] = saturatingAdd(byValue[v.Value], v.Count)
	}

	out := make(model.ValueSite, 0, len(byValue))
	for value, count := range byValue {
		out = append(out, model.ValueSiteValue{Value: value, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// mergeSummary combines two summaries: sum for totals, max for peaks.
// Detailed cutoff entries are not recombinable and are dropped when
// both sides carry them.
func mergeSummary(a, b *model.ProfileSummary) *model.ProfileSummary {
	if a == nil {
		return cloneSummary(b)
	}
	if b == nil {
		return a
	}
	a.TotalFunctions = saturatingAdd(a.TotalFunctions, b.TotalFunctions)
	a.TotalBlocks = saturatingAdd(a.TotalBlocks, b.TotalBlocks)
	a.TotalBlockCount = saturatingAdd(a.TotalBlockCount, b.TotalBlockCount)
	a.MaxFunctionCount = maxU64(a.MaxFunctionCount, b.MaxFunctionCount)
	a.MaxBlockCount = maxU64(a.MaxBlockCount, b.MaxBlockCount)
	a.MaxInternalBlockCount = maxU64(a.MaxInternalBlockCount, b.MaxInternalBlockCount)
	a.Detailed = nil
	return a
}

func cloneSummary(s *model.ProfileSummary) *model.ProfileSummary {
	if s == nil {
		return nil
	}
	out := *s
	out.Detailed = append([]model.SummaryEntry(nil), s.Detailed...)
	return &out
}

// cloneProfile deep-copies a profile so merging never mutates caller
// state.
func cloneProfile(p *model.InstrumentationProfile) *model.InstrumentationProfile {
	out := model.NewInstrumentationProfile()
	out.Version = p.Version
	out.IsIR = p.IsIR
	out.HasCSIR = p.HasCSIR
	out.IsEntryFirst = p.IsEntryFirst
	out.IsByteCoverage = p.IsByteCoverage
	out.FnEntryOnly = p.FnEntryOnly
	out.MemoryProfiling = p.MemoryProfiling
	for hash, name := range p.Symtab {
		out.AddSymbol(hash, name)
	}
	for _, rec := range p.Records() {
		out.PushRecord(rec.Clone())
	}
	out.Summary = cloneSummary(p.Summary)
	out.CSSummary = cloneSummary(p.CSSummary)
	return out
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
