// Package parser defines the interfaces for decoding instrumentation
// profiles and dispatches input to the format-specific decoders.
package parser

import (
	"context"
	"os"

	"github.com/covparse/pkg/model"
)

// Parser decodes one profile format into the common in-memory model.
type Parser interface {
	// Parse decodes a complete profile held in memory. The profile
	// formats are random access, so decoding works on byte slices
	// rather than streams.
	Parse(ctx context.Context, data []byte) (*model.InstrumentationProfile, error)

	// CanParse reports whether the data looks like this parser's
	// format, normally by checking magic bytes.
	CanParse(data []byte) bool

	// SupportedFormats returns the formats supported by this parser.
	SupportedFormats() []string

	// Name returns the name of this parser.
	Name() string
}

// Registry holds registered parsers in registration order.
type Registry struct {
	order   []string
	parsers map[string]Parser
}

// NewRegistry creates a new parser Registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[string]Parser),
	}
}

// Register registers a parser under the given format name.
func (r *Registry) Register(format string, p Parser) {
	if _, ok := r.parsers[format]; !ok {
		r.order = append(r.order, format)
	}
	r.parsers[format] = p
}

// Get returns the parser for the given format.
func (r *Registry) Get(format string) (Parser, bool) {
	p, ok := r.parsers[format]
	return p, ok
}

// Formats returns the registered format names in registration order.
func (r *Registry) Formats() []string {
	return append([]string(nil), r.order...)
}

// Detect returns the first registered parser that recognizes the data.
// Binary formats are checked before text since text sniffing is
// permissive.
func (r *Registry) Detect(data []byte) (Parser, bool) {
	for _, format := range r.order {
		if p := r.parsers[format]; p.CanParse(data) {
			return p, true
		}
	}
	return nil, false
}

// Parse detects the format and decodes the data.
func (r *Registry) Parse(ctx context.Context, data []byte) (*model.InstrumentationProfile, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	p, ok := r.Detect(data)
	if !ok {
		return nil, ErrUnknownFormat
	}
	return p.Parse(ctx, data)
}

// ParseFile reads and decodes a profile file.
func (r *Registry) ParseFile(ctx context.Context, path string) (*model.InstrumentationProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return r.Parse(ctx, data)
}
