package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyVersion(t *testing.T) {
	p := NewInstrumentationProfile()
	p.ApplyVersion(9 | VariantMaskIRProf | VariantMaskByteCoverage)

	assert.Equal(t, uint64(9), p.Version)
	assert.True(t, p.IsIR)
	assert.True(t, p.IsByteCoverage)
	assert.False(t, p.HasCSIR)
	assert.False(t, p.FnEntryOnly)
	assert.False(t, p.MemoryProfiling)
}

func TestRecordLookup(t *testing.T) {
	p := NewInstrumentationProfile()
	p.PushRecord(&NamedRecord{Name: "main", Hash: 0x1234, Counts: []uint64{1, 2}})
	p.PushRecord(&NamedRecord{Name: "main", Hash: 0x5678, Counts: []uint64{3}})

	t.Run("joint key distinguishes hashes", func(t *testing.T) {
		a, ok := p.FindRecord(RecordKey{Name: "main", Hash: 0x1234})
		require.True(t, ok)
		assert.Equal(t, []uint64{1, 2}, a.Counts)

		b, ok := p.FindRecord(RecordKey{Name: "main", Hash: 0x5678})
		require.True(t, ok)
		assert.Equal(t, []uint64{3}, b.Counts)
	})

	t.Run("missing key", func(t *testing.T) {
		_, ok := p.FindRecord(RecordKey{Name: "main", Hash: 0x9999})
		assert.False(t, ok)
	})

	t.Run("records by name", func(t *testing.T) {
		assert.Len(t, p.RecordsByName("main"), 2)
		assert.Empty(t, p.RecordsByName("other"))
	})
}

func TestRecordClone(t *testing.T) {
	rec := &NamedRecord{
		Name:   "f",
		Hash:   7,
		Counts: []uint64{10, 20},
		ValueData: &ValueProfData{
			IndirectCallSites: []ValueSite{{{Value: 0xdead, Count: 3}}},
		},
	}

	cp := rec.Clone()
	cp.Counts[0] = 99
	cp.ValueData.IndirectCallSites[0][0].Count = 99

	assert.Equal(t, uint64(10), rec.Counts[0])
	assert.Equal(t, uint64(3), rec.ValueData.IndirectCallSites[0][0].Count)
}

func TestIsEmpty(t *testing.T) {
	p := NewInstrumentationProfile()
	assert.True(t, p.IsEmpty())

	p.AddSymbol(1, "f")
	assert.False(t, p.IsEmpty())

	q := NewInstrumentationProfile()
	q.PushRecord(&NamedRecord{Name: "f"})
	assert.False(t, q.IsEmpty())
}

func TestFileCoverageRates(t *testing.T) {
	f := FileCoverage{
		Path: "a.c",
		Lines: []LineCoverage{
			{Line: 1, Hits: 5},
			{Line: 2, Hits: 0},
			{Line: 3, Hits: 1},
		},
	}
	assert.Equal(t, 2, f.LinesCovered())
	assert.InDelta(t, 2.0/3.0, f.LineRate(), 1e-9)

	empty := FileCoverage{}
	assert.Zero(t, empty.LineRate())
}

func TestFilenameSet(t *testing.T) {
	m := CoverageMapping{
		Functions: []FunctionRecord{
			{Filenames: []string{"a.c", "b.h"}},
			{Filenames: []string{"b.h", "c.c"}},
		},
	}
	assert.Equal(t, []string{"a.c", "b.h", "c.c"}, m.FilenameSet())
}
