// Package textprof decodes the human-editable text profile format.
// Text profiles are the only format people write by hand, so every
// error names the 1-based line it came from.
package textprof

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/covparse/internal/parser"
	"github.com/covparse/pkg/codec"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/utils"

	apperrors "github.com/covparse/pkg/errors"
)

// externalSymbol marks an indirect call target outside the profiled
// binary. It hashes to zero.
const externalSymbol = "** External Symbol **"

// sniffLimit bounds how much input detection inspects.
const sniffLimit = 1024

// Options configures the text profile parser.
type Options struct {
	// Logger receives decode diagnostics. Defaults to NullLogger.
	Logger utils.Logger
}

// DefaultOptions returns the default parser options.
func DefaultOptions() *Options {
	return &Options{
		Logger: &utils.NullLogger{},
	}
}

// Parser decodes text profiles.
type Parser struct {
	opts *Options
}

// NewParser creates a text profile parser. A nil opts uses defaults.
func NewParser(opts *Options) *Parser {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	return &Parser{opts: opts}
}

// Name implements parser.Parser.
func (p *Parser) Name() string {
	return "textprof"
}

// SupportedFormats implements parser.Parser.
func (p *Parser) SupportedFormats() []string {
	return []string{"text"}
}

// CanParse reports whether data looks like ASCII text. The check is
// permissive, so text must be the last format a registry tries.
func (p *Parser) CanParse(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n := len(data)
	if n > sniffLimit {
		n = sniffLimit
	}
	for _, b := range data[:n] {
		if b >= 0x7f || (b < 0x20 && b != '\t' && b != '\n' && b != '\r') {
			return false
		}
	}
	return true
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, data []byte) (*model.InstrumentationProfile, error) {
	if !utf8.Valid(data) {
		return nil, apperrors.FormatErrorf("text profile is not valid UTF-8")
	}

	profile := model.NewInstrumentationProfile()
	s := newScanner(string(data))

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, num, ok := s.next()
		if !ok {
			break
		}
		if strings.HasPrefix(line, ":") {
			if err := applyTag(profile, line, num); err != nil {
				return nil, err
			}
			continue
		}
		rec, err := parseRecord(s, line, num)
		if err != nil {
			return nil, err
		}
		profile.PushRecord(rec)
		profile.AddSymbol(codec.NameHash(rec.Name), rec.Name)
	}

	p.opts.Logger.Debug("decoded text profile: records=%d", profile.NumRecords())
	return profile, nil
}

// applyTag handles a header tag line.
func applyTag(profile *model.InstrumentationProfile, line string, num int) error {
	switch strings.ToLower(strings.TrimSpace(line[1:])) {
	case "ir":
		profile.IsIR = true
	case "fe":
		profile.IsIR = false
	case "csir":
		profile.HasCSIR = true
	case "entry_first":
		profile.IsEntryFirst = true
	default:
		return apperrors.FormatErrorf("line %d: unknown header tag %q", num, line)
	}
	return nil
}

// parseRecord decodes one function record starting at its name line.
func parseRecord(s *scanner, name string, nameLine int) (*model.NamedRecord, error) {
	hashLine, num, ok := s.next()
	if !ok {
		return nil, apperrors.FormatErrorf("line %d: function %q has no hash line", nameLine, name)
	}
	hash, err := parseHash(hashLine)
	if err != nil {
		return nil, apperrors.FormatErrorf("line %d: bad function hash %q", num, hashLine)
	}

	countLine, num, ok := s.next()
	if !ok {
		return nil, apperrors.FormatErrorf("line %d: function %q has no counter count", nameLine, name)
	}
	numCounters, err := strconv.ParseUint(countLine, 10, 64)
	if err != nil {
		return nil, apperrors.FormatErrorf("line %d: bad counter count %q", num, countLine)
	}

	counts := make([]uint64, 0, capHint(numCounters))
	for i := uint64(0); i < numCounters; i++ {
		line, num, ok := s.next()
		if !ok {
			return nil, apperrors.FormatErrorf("function %q declares %d counters, input ends after %d", name, numCounters, i)
		}
		c, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			return nil, apperrors.FormatErrorf("line %d: bad counter value %q", num, line)
		}
		counts = append(counts, c)
	}

	rec := &model.NamedRecord{Name: name, Hash: hash, Counts: counts}

	// A numeric line after the counters starts value-profile data; a
	// non-numeric one is the next record's name.
	if peeked, _, ok := s.peek(); ok && isDecimal(peeked) {
		vp, err := parseValueProfile(s)
		if err != nil {
			return nil, err
		}
		rec.ValueData = vp
	}
	return rec, nil
}

// parseValueProfile decodes the value-profile block that follows a
// record's counters.
func parseValueProfile(s *scanner) (*model.ValueProfData, error) {
	numKinds, num, err := nextUint(s, "value kind count")
	if err != nil {
		return nil, err
	}
	if numKinds == 0 || numKinds > model.NumValueKinds {
		return nil, apperrors.FormatErrorf("line %d: value kind count %d out of range", num, numKinds)
	}

	vp := &model.ValueProfData{}
	for k := uint64(0); k < numKinds; k++ {
		kind, num, err := nextUint(s, "value kind")
		if err != nil {
			return nil, err
		}
		if kind >= model.NumValueKinds {
			return nil, apperrors.FormatErrorf("line %d: unknown value kind %d", num, kind)
		}
		numSites, _, err := nextUint(s, "value site count")
		if err != nil {
			return nil, err
		}
		sites := make([]model.ValueSite, 0, capHint(numSites))
		for i := uint64(0); i < numSites; i++ {
			site, err := parseValueSite(s)
			if err != nil {
				return nil, err
			}
			sites = append(sites, site)
		}
		switch model.ValueKind(kind) {
		case model.ValueKindIndirectCallTarget:
			vp.IndirectCallSites = sites
		case model.ValueKindMemOpSize:
			vp.MemOpSizes = sites
		}
	}
	return vp, nil
}

// parseValueSite decodes one site: a value count line, then that many
// value:count pairs.
func parseValueSite(s *scanner) (model.ValueSite, error) {
	numValues, _, err := nextUint(s, "site value count")
	if err != nil {
		return nil, err
	}
	site := make(model.ValueSite, 0, capHint(numValues))
	for i := uint64(0); i < numValues; i++ {
		line, num, ok := s.next()
		if !ok {
			return nil, apperrors.FormatErrorf("input ends inside a value site")
		}
		sep := strings.LastIndexByte(line, ':')
		if sep < 0 {
			return nil, apperrors.FormatErrorf("line %d: value entry %q is not value:count", num, line)
		}
		count, err := strconv.ParseUint(strings.TrimSpace(line[sep+1:]), 10, 64)
		if err != nil {
			return nil, apperrors.FormatErrorf("line %d: bad value count in %q", num, line)
		}
		site = append(site, model.ValueSiteValue{
			Value: symbolValue(strings.TrimSpace(line[:sep])),
			Count: count,
		})
	}
	return site, nil
}

// symbolValue maps a value token to its numeric form: decimal numbers
// pass through, symbol names hash, the external placeholder is zero.
func symbolValue(token string) uint64 {
	if token == externalSymbol {
		return 0
	}
	if v, err := strconv.ParseUint(token, 10, 64); err == nil {
		return v
	}
	return codec.NameHash(token)
}

func parseHash(line string) (uint64, error) {
	if strings.HasPrefix(line, "0x") || strings.HasPrefix(line, "0X") {
		return strconv.ParseUint(line[2:], 16, 64)
	}
	return strconv.ParseUint(line, 10, 64)
}

func nextUint(s *scanner, what string) (uint64, int, error) {
	line, num, ok := s.next()
	if !ok {
		return 0, 0, apperrors.FormatErrorf("input ends where a %s was expected", what)
	}
	v, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		return 0, 0, apperrors.FormatErrorf("line %d: bad %s %q", num, what, line)
	}
	return v, num, nil
}

// capHint bounds slice preallocation so a hostile declared length
// cannot force a huge allocation before the input runs out.
func capHint(n uint64) int {
	const max = 4096
	if n > max {
		return max
	}
	return int(n)
}

func isDecimal(line string) bool {
	if line == "" {
		return false
	}
	for _, r := range line {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// scanner yields trimmed, non-blank, non-comment lines with 1-based
// line numbers.
type scanner struct {
	lines []string
	idx   int
}

func newScanner(text string) *scanner {
	return &scanner{lines: strings.Split(text, "\n")}
}

func (s *scanner) next() (string, int, bool) {
	line, num, ok := s.peek()
	if ok {
		s.idx = num
	}
	return line, num, ok
}

func (s *scanner) peek() (string, int, bool) {
	for i := s.idx; i < len(s.lines); i++ {
		line := strings.TrimSuffix(s.lines[i], "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return trimmed, i + 1, true
	}
	return "", len(s.lines), false
}

var _ parser.Parser = (*Parser)(nil)
