package textprof

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covparse/pkg/model"
)

func TestWriteParseRoundTrip(t *testing.T) {
	in := model.NewInstrumentationProfile()
	in.IsIR = true
	in.IsEntryFirst = true
	in.PushRecord(&model.NamedRecord{Name: "main", Hash: 0x1234, Counts: []uint64{10, 0, 3}})
	in.PushRecord(&model.NamedRecord{
		Name: "dispatch", Hash: 99, Counts: []uint64{7},
		ValueData: &model.ValueProfData{
			IndirectCallSites: []model.ValueSite{
				{{Value: 0xdeadbeef, Count: 5}, {Value: 17, Count: 1}},
				{},
			},
			MemOpSizes: []model.ValueSite{
				{{Value: 16, Count: 42}},
			},
		},
	})

	var buf bytes.Buffer
	require.NoError(t, NewWriter().Write(in, &buf))

	out, err := NewParser(nil).Parse(context.Background(), buf.Bytes())
	require.NoError(t, err)

	assert.True(t, out.IsIR)
	assert.True(t, out.IsEntryFirst)
	require.Equal(t, 2, out.NumRecords())

	got, ok := out.FindRecord(model.RecordKey{Name: "main", Hash: 0x1234})
	require.True(t, ok)
	assert.Equal(t, []uint64{10, 0, 3}, got.Counts)

	got, ok = out.FindRecord(model.RecordKey{Name: "dispatch", Hash: 99})
	require.True(t, ok)
	require.NotNil(t, got.ValueData)
	require.Len(t, got.ValueData.IndirectCallSites, 2)
	assert.Equal(t, model.ValueSiteValue{Value: 0xdeadbeef, Count: 5}, got.ValueData.IndirectCallSites[0][0])
	assert.Empty(t, got.ValueData.IndirectCallSites[1])
	require.Len(t, got.ValueData.MemOpSizes, 1)
	assert.Equal(t, uint64(16), got.ValueData.MemOpSizes[0][0].Value)
}

func TestWriteCSIRTag(t *testing.T) {
	in := model.NewInstrumentationProfile()
	in.HasCSIR = true

	var buf bytes.Buffer
	require.NoError(t, NewWriter().Write(in, &buf))
	assert.Contains(t, buf.String(), ":csir")

	out, err := NewParser(nil).Parse(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.True(t, out.HasCSIR)
}

func TestWriteToFile(t *testing.T) {
	in := model.NewInstrumentationProfile()
	in.PushRecord(&model.NamedRecord{Name: "main", Hash: 1, Counts: []uint64{4, 0}})

	path := filepath.Join(t.TempDir(), "out.proftext")
	require.NoError(t, NewWriter().WriteToFile(in, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out, err := NewParser(nil).Parse(context.Background(), data)
	require.NoError(t, err)

	got, ok := out.FindRecord(model.RecordKey{Name: "main", Hash: 1})
	require.True(t, ok)
	assert.Equal(t, []uint64{4, 0}, got.Counts)
}

func TestWriteEmptyProfile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter().Write(model.NewInstrumentationProfile(), &buf))
	assert.Empty(t, buf.String())
}
