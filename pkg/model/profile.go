// Package model defines the shared data types produced by the profile
// parsers and consumed by the merge engine and report builder.
package model

// Variant mask bits carried in the version field of binary profiles.
// The top byte of the version word is reserved for these flags; the
// remaining bits are the format version number.
const (
	VariantMasksAll          uint64 = 0xff00_0000_0000_0000
	VariantMaskIRProf        uint64 = 1 << 56
	VariantMaskCSIRProf      uint64 = 1 << 57
	VariantMaskByteCoverage  uint64 = 1 << 60
	VariantMaskFnEntryOnly   uint64 = 1 << 61
	VariantMaskMemoryProfile uint64 = 1 << 62
)

// ValueKind identifies a value-profiling site kind.
type ValueKind int

const (
	// ValueKindIndirectCallTarget profiles indirect call targets.
	ValueKindIndirectCallTarget ValueKind = 0
	// ValueKindMemOpSize profiles memory intrinsic size arguments.
	ValueKindMemOpSize ValueKind = 1

	// NumValueKinds is the number of defined value kinds.
	NumValueKinds = 2
)

// ValueSiteValue is a single (target value, count) pair at a value site.
type ValueSiteValue struct {
	Value uint64 `json:"value"`
	Count uint64 `json:"count"`
}

// ValueSite is the histogram recorded at one value-profiling site.
type ValueSite []ValueSiteValue

// ValueProfData holds the value-profiling histograms for one record.
type ValueProfData struct {
	IndirectCallSites []ValueSite `json:"indirect_call_sites,omitempty"`
	MemOpSizes        []ValueSite `json:"mem_op_sizes,omitempty"`
}

// NumSites returns the number of sites recorded for the given kind.
func (v *ValueProfData) NumSites(kind ValueKind) int {
	if v == nil {
		return 0
	}
	switch kind {
	case ValueKindIndirectCallTarget:
		return len(v.IndirectCallSites)
	case ValueKindMemOpSize:
		return len(v.MemOpSizes)
	default:
		return 0
	}
}

// RecordKey is the merge identity of an instrumentation record. Two
// records with equal name but different structural hash describe
// physically different function bodies and are never combined.
type RecordKey struct {
	Name string
	Hash uint64
}

// NamedRecord is one function's instrumentation data: its name, the
// structural hash of its control flow, and the counter values recorded
// for one or more runs. The counter slice length is fixed at parse time
// and never changes afterwards; merging only changes values.
type NamedRecord struct {
	Name      string         `json:"name"`
	Hash      uint64         `json:"hash"`
	Counts    []uint64       `json:"counts"`
	ValueData *ValueProfData `json:"value_data,omitempty"`
}

// Key returns the merge identity for this record.
func (r *NamedRecord) Key() RecordKey {
	return RecordKey{Name: r.Name, Hash: r.Hash}
}

// Clone returns a deep copy of the record. Merge outputs are built from
// clones so inputs are never mutated across workers.
func (r *NamedRecord) Clone() *NamedRecord {
	out := &NamedRecord{
		Name:   r.Name,
		Hash:   r.Hash,
		Counts: append([]uint64(nil), r.Counts...),
	}
	out.ValueData = r.ValueData.Clone()
	return out
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (v *ValueProfData) Clone() *ValueProfData {
	if v == nil {
		return nil
	}
	return &ValueProfData{
		IndirectCallSites: cloneSites(v.IndirectCallSites),
		MemOpSizes:        cloneSites(v.MemOpSizes),
	}
}

func cloneSites(sites []ValueSite) []ValueSite {
	if sites == nil {
		return nil
	}
	out := make([]ValueSite, len(sites))
	for i, s := range sites {
		out[i] = append(ValueSite(nil), s...)
	}
	return out
}

// SummaryFieldKind indexes the scalar fields of an indexed profile's
// summary block.
type SummaryFieldKind uint64

const (
	SummaryTotalNumFunctions SummaryFieldKind = iota
	SummaryTotalNumBlocks
	SummaryMaxFunctionCount
	SummaryMaxBlockCount
	SummaryMaxInternalBlockCount
	SummaryTotalBlockCount
)

// SummaryEntry is one detailed-summary cutoff entry from an indexed
// profile's summary block.
type SummaryEntry struct {
	Cutoff    uint64 `json:"cutoff"`
	MinCount  uint64 `json:"min_count"`
	NumCounts uint64 `json:"num_counts"`
}

// ProfileSummary holds run-level statistics. "Max" fields combine via
// maximum across merged profiles, "Total" fields via saturating sum.
type ProfileSummary struct {
	TotalFunctions        uint64         `json:"total_functions"`
	TotalBlocks           uint64         `json:"total_blocks"`
	MaxFunctionCount      uint64         `json:"max_function_count"`
	MaxBlockCount         uint64         `json:"max_block_count"`
	MaxInternalBlockCount uint64         `json:"max_internal_block_count"`
	TotalBlockCount       uint64         `json:"total_block_count"`
	Detailed              []SummaryEntry `json:"detailed,omitempty"`
}

// InstrumentationProfile is the canonical in-memory form shared by all
// three profile parsers and produced by the merge engine.
type InstrumentationProfile struct {
	// Version is the format version the profile was decoded from, with
	// variant bits masked off. Zero when the source format carries no
	// version (text profiles).
	Version uint64 `json:"version,omitempty"`

	IsIR            bool `json:"is_ir,omitempty"`
	HasCSIR         bool `json:"has_csir,omitempty"`
	IsEntryFirst    bool `json:"is_entry_first,omitempty"`
	IsByteCoverage  bool `json:"is_byte_coverage,omitempty"`
	FnEntryOnly     bool `json:"fn_entry_only,omitempty"`
	MemoryProfiling bool `json:"memory_profiling,omitempty"`

	// Symtab maps truncated MD5 name hashes to function names, as
	// recorded in the profile's name sections.
	Symtab map[uint64]string `json:"-"`

	Summary   *ProfileSummary `json:"summary,omitempty"`
	CSSummary *ProfileSummary `json:"cs_summary,omitempty"`

	records []*NamedRecord
	lookup  map[RecordKey]int
}

// NewInstrumentationProfile creates an empty profile.
func NewInstrumentationProfile() *InstrumentationProfile {
	return &InstrumentationProfile{
		Symtab: make(map[uint64]string),
		lookup: make(map[RecordKey]int),
	}
}

// ApplyVersion sets the version and variant flags from a raw version
// word as stored in binary profile headers.
func (p *InstrumentationProfile) ApplyVersion(raw uint64) {
	p.Version = raw &^ VariantMasksAll
	p.IsIR = raw&VariantMaskIRProf != 0
	p.HasCSIR = raw&VariantMaskCSIRProf != 0
	p.IsByteCoverage = raw&VariantMaskByteCoverage != 0
	p.FnEntryOnly = raw&VariantMaskFnEntryOnly != 0
	p.MemoryProfiling = raw&VariantMaskMemoryProfile != 0
}

// Records returns the records in insertion order. Callers must not
// mutate the returned slice.
func (p *InstrumentationProfile) Records() []*NamedRecord {
	return p.records
}

// NumRecords returns the number of records in the profile.
func (p *InstrumentationProfile) NumRecords() int {
	return len(p.records)
}

// PushRecord appends a record and indexes it by (name, hash).
func (p *InstrumentationProfile) PushRecord(rec *NamedRecord) {
	if p.lookup == nil {
		p.lookup = make(map[RecordKey]int)
	}
	p.lookup[rec.Key()] = len(p.records)
	p.records = append(p.records, rec)
}

// FindRecord returns the record for the given (name, hash) key.
func (p *InstrumentationProfile) FindRecord(key RecordKey) (*NamedRecord, bool) {
	idx, ok := p.lookup[key]
	if !ok {
		return nil, false
	}
	return p.records[idx], true
}

// RecordsByName returns all records sharing a name. Multiple structural
// hashes can exist under one name across translation units.
func (p *InstrumentationProfile) RecordsByName(name string) []*NamedRecord {
	var out []*NamedRecord
	for _, rec := range p.records {
		if rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

// AddSymbol records a name-hash to name association.
func (p *InstrumentationProfile) AddSymbol(hash uint64, name string) {
	if p.Symtab == nil {
		p.Symtab = make(map[uint64]string)
	}
	p.Symtab[hash] = name
}

// HasValueData reports whether any record carries value-profiling data.
func (p *InstrumentationProfile) HasValueData() bool {
	for _, rec := range p.records {
		if rec.ValueData != nil {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the profile carries no records and no symbol
// data relevant to mapping resolution.
func (p *InstrumentationProfile) IsEmpty() bool {
	return len(p.records) == 0 && len(p.Symtab) == 0
}
