package cmd

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covparse/internal/parser/textprof"
	"github.com/covparse/internal/testutil"
	"github.com/covparse/pkg/codec"
	"github.com/covparse/pkg/model"
)

// resetFlags restores the package flag state between executions since
// cobra keeps parsed values across Execute calls.
func resetFlags() {
	cfgFile = ""
	verbose = false

	showJSON = false
	showAllFunctions = false
	showCounts = false
	showFunction = ""

	mergeOutput = ""
	mergeJobs = 0

	reportBinary = ""
	reportOutput = ""
	reportFormat = "json"
	reportIncludePrefixes = nil
	reportExcludePrefixes = nil
	reportPathRemaps = nil
	reportLenient = false
	reportJobs = 0
	reportUpload = false
	reportLabel = ""

	runsLimit = 20
	runsOffset = 0
	runsPurge = false
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// writeTestConfig builds a config file keeping every side effect inside
// the test's temp directory.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`decode:
  data_dir: %s
  max_worker: 2
database:
  type: sqlite
  database: %s
storage:
  type: local
  local_path: %s
log:
  level: error
  output_path: %s
`,
		filepath.Join(dir, "data"),
		filepath.Join(dir, "covparse.db"),
		filepath.Join(dir, "storage"),
		filepath.Join(dir, "logs"),
	)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeRawProfile(t *testing.T, name string, hash uint64, counts ...uint64) string {
	t.Helper()
	b := testutil.NewRawProfileBuilder()
	b.AddFunc(testutil.RawFunc{Name: name, Hash: hash, Counts: counts})
	path := filepath.Join(t.TempDir(), "default.profraw")
	require.NoError(t, os.WriteFile(path, b.Build(), 0644))
	return path
}

// writeCoveredBinary assembles an ELF whose mapping covers lines 1..3
// of src/main.c through counter 0 of "main".
func writeCoveredBinary(t *testing.T, funcHash uint64) string {
	t.Helper()
	le := binary.LittleEndian

	var list []byte
	file := "src/main.c"
	list = codec.AppendULEB128(list, uint64(len(file)))
	list = append(list, file...)
	blob := codec.AppendULEB128(nil, 1)
	blob = codec.AppendULEB128(blob, uint64(len(list)))
	blob = codec.AppendULEB128(blob, 0)
	blob = append(blob, list...)

	covmap := le.AppendUint32(nil, 0)
	covmap = le.AppendUint32(covmap, uint32(len(blob)))
	covmap = le.AppendUint32(covmap, 0)
	covmap = le.AppendUint32(covmap, 4)
	covmap = append(covmap, blob...)
	for len(covmap)%8 != 0 {
		covmap = append(covmap, 0)
	}

	// Mapping body: one file id, no expressions, one region reading
	// counter 0 over lines 1..3.
	body := codec.AppendULEB128(nil, 1)
	body = codec.AppendULEB128(body, 0)
	body = codec.AppendULEB128(body, 0)
	body = codec.AppendULEB128(body, 1)
	body = codec.AppendULEB128(body, 1)
	body = codec.AppendULEB128(body, 1)
	body = codec.AppendULEB128(body, 1)
	body = codec.AppendULEB128(body, 2)
	body = codec.AppendULEB128(body, 10)

	covfun := le.AppendUint64(nil, codec.NameHash("main"))
	covfun = le.AppendUint32(covfun, uint32(len(body)))
	covfun = le.AppendUint64(covfun, funcHash)
	covfun = le.AppendUint64(covfun, codec.DataHash(blob))
	covfun = append(covfun, body...)
	for len(covfun)%8 != 0 {
		covfun = append(covfun, 0)
	}

	data := buildTestELF(map[string][]byte{
		"__llvm_covmap":    covmap,
		"__llvm_covfun":    covfun,
		"__llvm_prf_names": codec.EncodeNameBlob([]string{"main"}),
	})
	path := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(path, data, 0755))
	return path
}

// buildTestELF assembles a minimal 64-bit little-endian ELF with the
// given named sections.
func buildTestELF(sections map[string][]byte) []byte {
	le := binary.LittleEndian

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}

	shstrtab := []byte{0}
	nameOff := map[string]uint32{}
	for _, name := range names {
		nameOff[name] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
	}
	nameOff[".shstrtab"] = uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab"...)
	shstrtab = append(shstrtab, 0)

	type sec struct {
		name   string
		data   []byte
		typ    uint32
		offset uint64
	}
	all := make([]sec, 0, len(names)+1)
	for _, name := range names {
		all = append(all, sec{name: name, data: sections[name], typ: 1})
	}
	all = append(all, sec{name: ".shstrtab", data: shstrtab, typ: 3})

	body := make([]byte, 64)
	for i := range all {
		all[i].offset = uint64(len(body))
		body = append(body, all[i].data...)
	}
	shoff := uint64(len(body))

	sh := make([]byte, 64)
	for _, s := range all {
		entry := make([]byte, 64)
		le.PutUint32(entry[0:], nameOff[s.name])
		le.PutUint32(entry[4:], s.typ)
		le.PutUint64(entry[24:], s.offset)
		le.PutUint64(entry[32:], uint64(len(s.data)))
		le.PutUint64(entry[48:], 1)
		sh = append(sh, entry...)
	}
	body = append(body, sh...)

	hdr := body[:64]
	copy(hdr, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(hdr[16:], 2)
	le.PutUint16(hdr[18:], 0x3e)
	le.PutUint32(hdr[20:], 1)
	le.PutUint64(hdr[40:], shoff)
	le.PutUint16(hdr[52:], 64)
	le.PutUint16(hdr[58:], 64)
	le.PutUint16(hdr[60:], uint16(len(all)+1))
	le.PutUint16(hdr[62:], uint16(len(all)))
	return body
}

func TestShowCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)
	profPath := writeRawProfile(t, "main", 0x1234, 7, 3)

	out, err := execute(t, "-c", cfgPath, "show", "--all-functions", "--counts", profPath)
	require.NoError(t, err)

	assert.Contains(t, out, "main:")
	assert.Contains(t, out, "Counters: 2")
	assert.Contains(t, out, "[7 3]")
	assert.Contains(t, out, "Total functions:")
	assert.Contains(t, out, "Maximum function count: 7")
	assert.Contains(t, out, "rawprof")
}

func TestShowCommandJSON(t *testing.T) {
	cfgPath := writeTestConfig(t)
	profPath := writeRawProfile(t, "main", 0x1234, 7, 3)

	out, err := execute(t, "-c", cfgPath, "show", "--json", "--all-functions", profPath)
	require.NoError(t, err)

	var decoded showOutput
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "rawprof", decoded.Format)
	assert.Equal(t, 1, decoded.NumFunctions)
	require.Len(t, decoded.Records, 1)
	assert.Equal(t, "main", decoded.Records[0].Name)
	assert.Equal(t, []uint64{7, 3}, decoded.Records[0].Counts)
}

func TestShowCommandUnknownFormat(t *testing.T) {
	cfgPath := writeTestConfig(t)
	junk := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(junk, []byte{0xff, 0xfe, 0x01}, 0644))

	_, err := execute(t, "-c", cfgPath, "show", junk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized profile format")
}

func TestMergeCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)
	a := writeRawProfile(t, "main", 0x1234, 5, 9)
	b := writeRawProfile(t, "main", 0x1234, 1, 1)
	outPath := filepath.Join(t.TempDir(), "merged.proftext")

	out, err := execute(t, "-c", cfgPath, "merge", "-o", outPath, "-j", "2", a, b)
	require.NoError(t, err)
	assert.Contains(t, out, "Merged 2 profiles")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	merged, err := textprof.NewParser(nil).Parse(context.Background(), data)
	require.NoError(t, err)

	rec, ok := merged.FindRecord(model.RecordKey{Name: "main", Hash: 0x1234})
	require.True(t, ok)
	assert.Equal(t, []uint64{6, 10}, rec.Counts)
}

func TestReportCommandLCOV(t *testing.T) {
	cfgPath := writeTestConfig(t)
	profPath := writeRawProfile(t, "main", 0x1234, 7)
	binPath := writeCoveredBinary(t, 0x1234)
	outPath := filepath.Join(t.TempDir(), "report.lcov")

	out, err := execute(t, "-c", cfgPath, "report",
		"-b", binPath, "--format", "lcov", "-o", outPath, profPath)
	require.NoError(t, err)
	assert.Contains(t, out, "line coverage: 100.00%")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SF:src/main.c")
	assert.Contains(t, string(data), "DA:1,7")
	assert.Contains(t, string(data), "end_of_record")
}

func TestReportCommandExcludePrefix(t *testing.T) {
	cfgPath := writeTestConfig(t)
	profPath := writeRawProfile(t, "main", 0x1234, 7)
	binPath := writeCoveredBinary(t, 0x1234)

	out, err := execute(t, "-c", cfgPath, "report",
		"-b", binPath, "--exclude-prefix", "src", profPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Files: 0")
}

func TestReportCommandPathRemap(t *testing.T) {
	cfgPath := writeTestConfig(t)
	profPath := writeRawProfile(t, "main", 0x1234, 7)
	binPath := writeCoveredBinary(t, 0x1234)
	outPath := filepath.Join(t.TempDir(), "report.lcov")

	out, err := execute(t, "-c", cfgPath, "report",
		"-b", binPath, "--format", "lcov", "-o", outPath,
		"--path-remap", "src,lib", profPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Files: 1")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SF:lib/main.c")
	assert.NotContains(t, string(data), "SF:src/main.c")
}

func TestReportCommandBadPathRemap(t *testing.T) {
	cfgPath := writeTestConfig(t)
	profPath := writeRawProfile(t, "main", 0x1234, 7)
	binPath := writeCoveredBinary(t, 0x1234)

	_, err := execute(t, "-c", cfgPath, "report",
		"-b", binPath, "--path-remap", "src", profPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source,dest")
}

func TestReportCommandBadFormat(t *testing.T) {
	cfgPath := writeTestConfig(t)
	profPath := writeRawProfile(t, "main", 0x1234, 7)
	binPath := writeCoveredBinary(t, 0x1234)

	_, err := execute(t, "-c", cfgPath, "report",
		"-b", binPath, "--format", "xml", profPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestReportUploadLifecycle(t *testing.T) {
	cfgPath := writeTestConfig(t)
	profPath := writeRawProfile(t, "main", 0x1234, 7)
	binPath := writeCoveredBinary(t, 0x1234)
	outPath := filepath.Join(t.TempDir(), "report.json")

	out, err := execute(t, "-c", cfgPath, "report",
		"-b", binPath, "-o", outPath, "--upload", "--label", "nightly", profPath)
	require.NoError(t, err)
	require.Contains(t, out, "Recorded coverage run ")

	var runUUID string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "Recorded coverage run "); ok {
			runUUID = strings.TrimSpace(rest)
		}
	}
	require.NotEmpty(t, runUUID)

	out, err = execute(t, "-c", cfgPath, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, runUUID)
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "complete")

	out, err = execute(t, "-c", cfgPath, "runs", "show", runUUID)
	require.NoError(t, err)
	assert.Contains(t, out, "Lines:    3/3 (100.0%)")
	assert.Contains(t, out, "src/main.c")
	assert.Contains(t, out, "Report:   runs/"+runUUID+"/report.json")

	out, err = execute(t, "-c", cfgPath, "runs", "export", runUUID)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported")
	exported := filepath.Join(filepath.Dir(cfgPath), "data", runUUID, "report.json")
	var rep model.CoverageReport
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rep))
	require.Len(t, rep.Files, 1)
	assert.Equal(t, "src/main.c", rep.Files[0].Path)

	_, err = execute(t, "-c", cfgPath, "runs", "delete", "--purge", runUUID)
	require.NoError(t, err)

	_, err = execute(t, "-c", cfgPath, "runs", "show", runUUID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunsListEmpty(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := execute(t, "-c", cfgPath, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "UUID")
}
