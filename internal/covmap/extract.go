// Package covmap decodes the coverage mapping sections emitted by
// instrumented builds: the covmap section with per-unit filename
// tables and the covfun section with per-function region data. It is
// container-agnostic; internal/object locates the section bytes.
package covmap

import (
	"encoding/binary"
	"math"

	"github.com/covparse/pkg/codec"
	"github.com/covparse/pkg/compression"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/utils"

	apperrors "github.com/covparse/pkg/errors"
)

const (
	minVersion = 1
	maxVersion = 6
)

// versionConfig is the per-version layout, chosen once per unit. An
// unknown version is rejected, never parsed with a guessed layout.
type versionConfig struct {
	legacy            bool
	hasFilenamesRef   bool
	compressedNames   bool
	branchRegions     bool
	hasCompilationDir bool
}

func configFor(version uint32) (versionConfig, error) {
	if version < minVersion || version > maxVersion {
		return versionConfig{}, apperrors.FormatErrorf("unknown coverage mapping version %d", version)
	}
	return versionConfig{
		legacy:            version <= 2,
		hasFilenamesRef:   version >= 4,
		compressedNames:   version >= 4,
		branchRegions:     version >= 5,
		hasCompilationDir: version >= 6,
	}, nil
}

// SymbolResolver maps a truncated name hash to a function name.
type SymbolResolver func(hash uint64) (string, bool)

// Options configures the extractor.
type Options struct {
	// Logger receives decode diagnostics. Defaults to NullLogger.
	Logger utils.Logger
	// Resolver supplies function names for covfun name hashes. Records
	// with no resolution keep an empty name and their hash.
	Resolver SymbolResolver
	// TolerateFailures skips a function whose mapping data fails to
	// decode instead of aborting the extraction.
	TolerateFailures bool
	// Order is the byte order of the section words. Defaults to little
	// endian; internal/object passes the container's order.
	Order binary.ByteOrder
}

// Extractor decodes coverage mapping sections.
type Extractor struct {
	opts *Options
	zlib *compression.ZlibCompressor
}

// New creates an extractor. A nil opts uses defaults.
func New(opts *Options) *Extractor {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	if opts.Order == nil {
		opts.Order = binary.LittleEndian
	}
	return &Extractor{
		opts: opts,
		zlib: compression.NewZlibCompressor(compression.LevelDefault),
	}
}

// unit is one decoded covmap unit: a filename table and its reference
// hash.
type unit struct {
	files          []string
	compilationDir string
}

// Extract decodes the covmap and covfun section bytes into a coverage
// mapping.
func (e *Extractor) Extract(covmapData, covfunData []byte) (*model.CoverageMapping, error) {
	units, version, err := e.parseUnits(covmapData)
	if err != nil {
		return nil, err
	}

	mapping := &model.CoverageMapping{Version: version}
	for _, u := range units {
		if u.compilationDir != "" && mapping.CompilationDir == "" {
			mapping.CompilationDir = u.compilationDir
		}
	}
	if err := e.parseFunctions(covfunData, version, units, mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// parseUnits walks the covmap section and decodes every unit's
// filename table, keyed by the hash of its encoded blob.
func (e *Extractor) parseUnits(data []byte) (map[uint64]*unit, uint32, error) {
	units := make(map[uint64]*unit)
	cur := codec.NewCursorOrder(data, e.opts.Order)
	version := uint32(0)

	for cur.Remaining() > 0 {
		var hdr [4]int32
		for i := range hdr {
			v, err := cur.Int32()
			if err != nil {
				return nil, 0, apperrors.Wrap(apperrors.CodeFormatError, "covmap unit header truncated", err)
			}
			hdr[i] = v
		}
		nRecords, filenamesLen, coverageLen := hdr[0], hdr[1], hdr[2]
		unitVersion := uint32(hdr[3])

		cfg, err := configFor(unitVersion)
		if err != nil {
			return nil, 0, err
		}
		if cfg.legacy {
			return nil, 0, apperrors.FormatErrorf("coverage mapping version %d uses legacy inline records and is not supported", unitVersion)
		}
		if nRecords != 0 || coverageLen != 0 {
			return nil, 0, apperrors.FormatErrorf("covmap unit carries inline records, expected none for version %d", unitVersion)
		}
		if version != 0 && unitVersion != version {
			return nil, 0, apperrors.FormatErrorf("covmap units disagree on version: %d and %d", version, unitVersion)
		}
		version = unitVersion

		if filenamesLen < 0 {
			return nil, 0, apperrors.FormatErrorf("covmap unit declares negative filename table size")
		}
		blob, err := cur.Bytes(int(filenamesLen))
		if err != nil {
			return nil, 0, apperrors.Wrap(apperrors.CodeFormatError, "covmap filename table truncated", err)
		}

		u, err := e.decodeFilenames(blob, cfg)
		if err != nil {
			return nil, 0, err
		}
		units[codec.DataHash(blob)] = u

		if err := cur.Align(8); err != nil {
			return nil, 0, apperrors.Wrap(apperrors.CodeFormatError, "covmap unit padding", err)
		}
	}
	if version == 0 {
		return nil, 0, apperrors.FormatErrorf("covmap section holds no units")
	}
	return units, version, nil
}

// decodeFilenames decodes one unit's filename table blob.
func (e *Extractor) decodeFilenames(blob []byte, cfg versionConfig) (*unit, error) {
	cur := codec.NewCursor(blob)
	numFiles, err := cur.ULEB128()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "filename table header", err)
	}

	list := cur
	if cfg.compressedNames {
		uncompressedLen, err := cur.ULEB128()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "filename table header", err)
		}
		compressedLen, err := cur.ULEB128()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "filename table header", err)
		}
		if compressedLen != 0 {
			payload, err := cur.Bytes(int(compressedLen))
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeFormatError, "filename table payload", err)
			}
			plain, err := e.zlib.DecompressLimit(payload, uncompressedLen)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeFormatError, "filename table decompression failed", err)
			}
			list = codec.NewCursor(plain)
		}
	}

	u := &unit{}
	for i := uint64(0); i < numFiles; i++ {
		nameLen, err := list.ULEB128()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "filename entry", err)
		}
		name, err := list.Bytes(int(nameLen))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "filename entry", err)
		}
		if i == 0 && cfg.hasCompilationDir {
			u.compilationDir = string(name)
		}
		u.files = append(u.files, string(name))
	}
	return u, nil
}

// parseFunctions walks the covfun section and decodes every function
// record against the unit filename tables.
func (e *Extractor) parseFunctions(data []byte, version uint32, units map[uint64]*unit, mapping *model.CoverageMapping) error {
	cfg, err := configFor(version)
	if err != nil {
		return err
	}
	cur := codec.NewCursorOrder(data, e.opts.Order)

	for cur.Remaining() > 0 {
		nameHash, err := cur.Uint64()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "covfun record header truncated", err)
		}
		dataLen, err := cur.Uint32()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "covfun record header truncated", err)
		}
		funcHash, err := cur.Uint64()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "covfun record header truncated", err)
		}
		var filenamesRef uint64
		if cfg.hasFilenamesRef {
			filenamesRef, err = cur.Uint64()
			if err != nil {
				return apperrors.Wrap(apperrors.CodeFormatError, "covfun record header truncated", err)
			}
		}
		body, err := cur.Bytes(int(dataLen))
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "covfun record body truncated", err)
		}
		if err := cur.Align(8); err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "covfun record padding", err)
		}

		// A zero function hash marks a dummy record emitted for unused
		// functions.
		if funcHash == 0 {
			continue
		}

		u, err := unitFor(units, cfg, filenamesRef)
		if err != nil {
			return err
		}

		fn := model.FunctionRecord{
			NameHash: nameHash,
			Hash:     funcHash,
		}
		if e.opts.Resolver != nil {
			if name, ok := e.opts.Resolver(nameHash); ok {
				fn.Name = name
			}
		}

		if err := decodeMappingData(body, cfg, u, &fn); err != nil {
			if !e.opts.TolerateFailures {
				return err
			}
			mapping.SkippedFunctions++
			e.opts.Logger.Warn("skipping function with undecodable mapping data: hash=%#x err=%v", nameHash, err)
			continue
		}
		mapping.Functions = append(mapping.Functions, fn)
	}
	return nil
}

// unitFor picks the filename table for a function record. Version 3
// has no filenames reference, so every function uses the single unit.
func unitFor(units map[uint64]*unit, cfg versionConfig, ref uint64) (*unit, error) {
	if !cfg.hasFilenamesRef {
		if len(units) != 1 {
			return nil, apperrors.FormatErrorf("version 3 object holds %d covmap units, functions cannot pick one", len(units))
		}
		for _, u := range units {
			return u, nil
		}
	}
	u, ok := units[ref]
	if !ok {
		return nil, apperrors.LookupErrorf("covfun record references unknown filename table %#x", ref)
	}
	return u, nil
}

// decodeMappingData decodes one function's mapping data: file ID
// mapping, expression table and regions.
func decodeMappingData(body []byte, cfg versionConfig, u *unit, fn *model.FunctionRecord) error {
	cur := codec.NewCursor(body)

	numFileIDs, err := cur.ULEB128()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeFormatError, "file id mapping", err)
	}
	fileIDs := make([]uint64, 0, capHint(numFileIDs))
	for i := uint64(0); i < numFileIDs; i++ {
		id, err := cur.ULEB128()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "file id mapping", err)
		}
		if id >= uint64(len(u.files)) {
			return apperrors.FormatErrorf("file id %d outside unit filename table of %d entries", id, len(u.files))
		}
		fileIDs = append(fileIDs, id)
	}
	fn.Filenames = make([]string, len(fileIDs))
	for i, id := range fileIDs {
		fn.Filenames[i] = u.files[id]
	}

	numExpressions, err := cur.ULEB128()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeFormatError, "expression table", err)
	}
	// Each expression takes at least two bytes, which bounds a hostile
	// declared count.
	if numExpressions > uint64(cur.Remaining())/2 {
		return apperrors.FormatErrorf("expression table declares %d entries, only %d bytes remain", numExpressions, cur.Remaining())
	}
	fn.Expressions = make([]model.Expression, numExpressions)
	for i := range fn.Expressions {
		lhs, err := decodeCounter(cur, fn.Expressions)
		if err != nil {
			return err
		}
		rhs, err := decodeCounter(cur, fn.Expressions)
		if err != nil {
			return err
		}
		fn.Expressions[i].LHS = lhs
		fn.Expressions[i].RHS = rhs
	}

	for localID := range fileIDs {
		if err := decodeRegions(cur, cfg, uint64(localID), fn); err != nil {
			return err
		}
	}
	return nil
}

// decodeCounter decodes one tagged counter reference. Expression
// references set the referenced node's operator from the tag.
func decodeCounter(cur *codec.Cursor, exprs []model.Expression) (model.CounterRef, error) {
	v, err := cur.ULEB128()
	if err != nil {
		return model.Zero(), apperrors.Wrap(apperrors.CodeFormatError, "counter reference", err)
	}
	return counterFromValue(v, exprs)
}

// counterFromValue interprets an already-read tagged counter word.
func counterFromValue(v uint64, exprs []model.Expression) (model.CounterRef, error) {
	id := v >> 2
	switch v & 3 {
	case 0:
		if id != 0 {
			return model.Zero(), apperrors.FormatErrorf("zero counter with non-zero payload %d", id)
		}
		return model.Zero(), nil
	case 1:
		return model.Counter(id), nil
	case 2, 3:
		if id >= uint64(len(exprs)) {
			return model.Zero(), apperrors.FormatErrorf("expression reference %d outside table of %d entries", id, len(exprs))
		}
		if v&3 == 2 {
			exprs[id].Op = model.ExprSubtract
		} else {
			exprs[id].Op = model.ExprAdd
		}
		return model.ExpressionRef(id), nil
	}
	panic("unreachable")
}

// decodeRegions decodes one file's region list.
func decodeRegions(cur *codec.Cursor, cfg versionConfig, fileID uint64, fn *model.FunctionRecord) error {
	numRegions, err := cur.ULEB128()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeFormatError, "region list", err)
	}

	line := uint64(0)
	for i := uint64(0); i < numRegions; i++ {
		region := model.Region{Kind: model.RegionCode, FileID: fileID}

		hdr, err := cur.ULEB128()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "region header", err)
		}
		if hdr&3 != 0 {
			region.Count, err = counterFromValue(hdr, fn.Expressions)
			if err != nil {
				return err
			}
		} else if hdr&(1<<2) != 0 {
			region.Kind = model.RegionExpansion
			region.ExpandedFileID = hdr >> 3
			if region.ExpandedFileID >= uint64(len(fn.Filenames)) {
				return apperrors.FormatErrorf("expansion region targets file %d of %d", region.ExpandedFileID, len(fn.Filenames))
			}
		} else {
			switch kind := hdr >> 3; kind {
			case 0:
				// Plain zero counter.
			case 2:
				region.Kind = model.RegionSkipped
			case 4:
				if !cfg.branchRegions {
					return apperrors.FormatErrorf("branch region in a version without branch coverage")
				}
				region.Kind = model.RegionBranch
				region.Count, err = decodeCounter(cur, fn.Expressions)
				if err != nil {
					return err
				}
				region.FalseCount, err = decodeCounter(cur, fn.Expressions)
				if err != nil {
					return err
				}
			default:
				return apperrors.FormatErrorf("unknown pseudo region kind %d", kind)
			}
		}

		deltaLine, err := cur.ULEB128()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "region location", err)
		}
		colStart, err := cur.ULEB128()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "region location", err)
		}
		numLines, err := cur.ULEB128()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "region location", err)
		}
		colEnd, err := cur.ULEB128()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "region location", err)
		}

		if colEnd&(1<<31) != 0 {
			if region.Kind == model.RegionCode {
				region.Kind = model.RegionGap
			}
			colEnd &^= 1 << 31
		}
		// Zero columns on both ends mean the region covers whole lines.
		if colStart == 0 && colEnd == 0 {
			colStart = 1
			colEnd = math.MaxUint64
		}

		line += deltaLine
		region.LineStart = line
		region.LineEnd = line + numLines
		region.ColumnStart = colStart
		region.ColumnEnd = colEnd
		if region.LineEnd < region.LineStart || region.LineEnd > math.MaxUint32 {
			return apperrors.FormatErrorf("region spans impossible line range %d..%d", region.LineStart, region.LineEnd)
		}

		fn.Regions = append(fn.Regions, region)
	}
	return nil
}

// capHint bounds preallocation from attacker-controlled lengths.
func capHint(n uint64) int {
	const max = 4096
	if n > max {
		return max
	}
	return int(n)
}
