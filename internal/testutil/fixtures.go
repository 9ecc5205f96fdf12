// Package testutil builds synthetic profile and coverage mapping byte
// fixtures for tests. The builders produce well-formed encodings by
// default; tests corrupt the output to exercise error paths.
package testutil

import (
	"encoding/binary"

	"github.com/covparse/pkg/codec"
	"github.com/covparse/pkg/model"
)

// ByteOrder is a byte order that can both read and append.
// binary.LittleEndian and binary.BigEndian satisfy it.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// RawFunc describes one function in a synthetic raw profile.
type RawFunc struct {
	Name          string
	Hash          uint64
	Counts        []uint64
	NumValueSites [model.NumValueKinds]uint16
}

// RawProfileBuilder assembles raw profile bytes.
type RawProfileBuilder struct {
	// Version is the format version without variant bits. Defaults to 8.
	Version uint64
	// Variants are variant mask bits OR'd into the version word.
	Variants uint64
	// Order is the byte order of the output. Defaults to little endian.
	Order ByteOrder
	// CountersDelta offsets every counter pointer; the header carries
	// the same value so decoding cancels it out.
	CountersDelta uint64

	funcs []RawFunc
}

// NewRawProfileBuilder returns a builder with defaults.
func NewRawProfileBuilder() *RawProfileBuilder {
	return &RawProfileBuilder{
		Version: 8,
		Order:   binary.LittleEndian,
	}
}

// AddFunc appends a function record.
func (b *RawProfileBuilder) AddFunc(fn RawFunc) *RawProfileBuilder {
	b.funcs = append(b.funcs, fn)
	return b
}

// Build assembles the profile bytes.
func (b *RawProfileBuilder) Build() []byte {
	var order ByteOrder = binary.LittleEndian
	if b.Order != nil {
		order = b.Order
	}
	byteCoverage := b.Variants&model.VariantMaskByteCoverage != 0

	magic := uint64(255<<56 | 'l'<<48 | 'p'<<40 | 'r'<<32 | 'o'<<24 | 'f'<<16 | 'r'<<8 | 129)

	// Counter section and per-function byte offsets into it.
	var counters []byte
	offsets := make([]uint64, len(b.funcs))
	numCounters := uint64(0)
	for i, fn := range b.funcs {
		offsets[i] = uint64(len(counters))
		numCounters += uint64(len(fn.Counts))
		for _, c := range fn.Counts {
			if byteCoverage {
				counters = append(counters, byte(c))
			} else {
				counters = order.AppendUint64(counters, c)
			}
		}
	}

	var names []string
	for _, fn := range b.funcs {
		names = append(names, fn.Name)
	}
	nameBlob := codec.EncodeNameBlob(names)

	var data []byte
	for i, fn := range b.funcs {
		data = order.AppendUint64(data, codec.NameHashOrder(fn.Name, order))
		data = order.AppendUint64(data, fn.Hash)
		data = order.AppendUint64(data, b.CountersDelta+offsets[i])
		data = order.AppendUint64(data, 0) // FuncPtr
		data = order.AppendUint64(data, 0) // ValuesPtr
		data = order.AppendUint32(data, uint32(len(fn.Counts)))
		data = order.AppendUint16(data, fn.NumValueSites[0])
		data = order.AppendUint16(data, fn.NumValueSites[1])
		if b.Version >= 9 {
			data = order.AppendUint64(data, 0) // BitmapPtr
			data = order.AppendUint32(data, 0) // NumBitmapBytes
			data = order.AppendUint32(data, 0) // pad
		}
	}

	out := order.AppendUint64(nil, magic)
	out = order.AppendUint64(out, b.Version|b.Variants)
	if b.Version >= 7 {
		out = order.AppendUint64(out, 0) // BinaryIdsSize
	}
	out = order.AppendUint64(out, uint64(len(b.funcs)))
	if b.Version >= 5 {
		out = order.AppendUint64(out, 0) // padding before counters
	}
	out = order.AppendUint64(out, numCounters)
	if b.Version >= 5 {
		out = order.AppendUint64(out, 0) // padding after counters
	}
	out = order.AppendUint64(out, uint64(len(nameBlob)))
	out = order.AppendUint64(out, b.CountersDelta)
	out = order.AppendUint64(out, 0) // NamesDelta
	out = order.AppendUint64(out, 1) // ValueKindLast

	out = append(out, data...)
	out = append(out, counters...)
	out = append(out, nameBlob...)
	return out
}

// IndexedBody is one (hash, counts) record body of an indexed profile
// function. Bodies carry an empty value-profile block.
type IndexedBody struct {
	Hash   uint64
	Counts []uint64
}

// IndexedFunc is one hash table key with its record bodies.
type IndexedFunc struct {
	Name   string
	Bodies []IndexedBody
}

// IndexedProfileBuilder assembles indexed profile bytes. Indexed
// profiles are little endian only.
type IndexedProfileBuilder struct {
	// Version is the format version without variant bits. Defaults to 9.
	Version uint64
	// Variants are variant mask bits OR'd into the version word.
	Variants uint64
	// NumBuckets sets the hash table bucket count. Defaults to 1, which
	// chains every key into a single bucket.
	NumBuckets int
	// Summary overrides the zero-valued default summary block.
	Summary *model.ProfileSummary
	// CSSummary is written when the Variants carry the CSIR bit.
	CSSummary *model.ProfileSummary

	funcs []IndexedFunc
}

// NewIndexedProfileBuilder returns a builder with defaults.
func NewIndexedProfileBuilder() *IndexedProfileBuilder {
	return &IndexedProfileBuilder{
		Version:    9,
		NumBuckets: 1,
	}
}

// AddFunc appends a function with its record bodies.
func (b *IndexedProfileBuilder) AddFunc(fn IndexedFunc) *IndexedProfileBuilder {
	b.funcs = append(b.funcs, fn)
	return b
}

// Build assembles the profile bytes.
func (b *IndexedProfileBuilder) Build() []byte {
	le := binary.LittleEndian
	magic := uint64(255<<56 | 'l'<<48 | 'p'<<40 | 'r'<<32 | 'o'<<24 | 'f'<<16 | 'i'<<8 | 129)

	out := le.AppendUint64(nil, magic)
	out = le.AppendUint64(out, b.Version|b.Variants)
	out = le.AppendUint64(out, 0) // unused
	out = le.AppendUint64(out, 0) // hash kind: MD5
	hashOffsetPos := len(out)
	out = le.AppendUint64(out, 0) // hash table offset, patched below
	if b.Version >= 8 {
		out = le.AppendUint64(out, 0) // MemProf offset
	}
	if b.Version >= 9 {
		out = le.AppendUint64(out, 0) // BinaryIds offset
	}
	if b.Version >= 10 {
		out = le.AppendUint64(out, 0) // temporal prof traces offset
	}

	out = appendSummary(out, b.Summary)
	if b.Variants&model.VariantMaskCSIRProf != 0 {
		out = appendSummary(out, b.CSSummary)
	}

	le.PutUint64(out[hashOffsetPos:], uint64(len(out)))
	numBuckets := b.NumBuckets
	if numBuckets < 1 {
		numBuckets = 1
	}
	out = le.AppendUint64(out, uint64(numBuckets))
	out = le.AppendUint64(out, uint64(len(b.funcs)))

	for bucket := 0; bucket < numBuckets; bucket++ {
		var items []IndexedFunc
		for i, fn := range b.funcs {
			if i%numBuckets == bucket {
				items = append(items, fn)
			}
		}
		out = le.AppendUint16(out, uint16(len(items)))
		for _, fn := range items {
			data := buildIndexedBodies(fn.Bodies)
			out = le.AppendUint64(out, codec.NameHash(fn.Name))
			out = le.AppendUint64(out, uint64(len(fn.Name)))
			out = le.AppendUint64(out, uint64(len(data)))
			out = append(out, fn.Name...)
			out = append(out, data...)
		}
	}
	return out
}

func buildIndexedBodies(bodies []IndexedBody) []byte {
	le := binary.LittleEndian
	var out []byte
	for _, body := range bodies {
		out = le.AppendUint64(out, body.Hash)
		out = le.AppendUint64(out, uint64(len(body.Counts)))
		for _, c := range body.Counts {
			out = le.AppendUint64(out, c)
		}
		out = le.AppendUint32(out, 8) // value profile block: header only
		out = le.AppendUint32(out, 0) // no value kinds
	}
	return out
}

func appendSummary(out []byte, s *model.ProfileSummary) []byte {
	le := binary.LittleEndian
	if s == nil {
		s = &model.ProfileSummary{}
	}
	fields := []uint64{
		s.TotalFunctions,
		s.TotalBlocks,
		s.MaxFunctionCount,
		s.MaxBlockCount,
		s.MaxInternalBlockCount,
		s.TotalBlockCount,
	}
	out = le.AppendUint64(out, uint64(len(fields)))
	out = le.AppendUint64(out, uint64(len(s.Detailed)))
	for _, f := range fields {
		out = le.AppendUint64(out, f)
	}
	for _, e := range s.Detailed {
		out = le.AppendUint64(out, e.Cutoff)
		out = le.AppendUint64(out, e.MinCount)
		out = le.AppendUint64(out, e.NumCounts)
	}
	return out
}
