package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/covparse/internal/profdata"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/writer"
)

var (
	showJSON         bool
	showAllFunctions bool
	showCounts       bool
	showFunction     string
)

// showOutput is the JSON shape of the show command. The profile type
// keeps its record list unexported, so the command flattens it here.
type showOutput struct {
	Format       string                `json:"format"`
	Version      uint64                `json:"version,omitempty"`
	IsIR         bool                  `json:"is_ir"`
	HasCSIR      bool                  `json:"has_csir,omitempty"`
	IsEntryFirst bool                  `json:"is_entry_first,omitempty"`
	ByteCoverage bool                  `json:"byte_coverage,omitempty"`
	NumFunctions int                   `json:"num_functions"`
	MaxCount     uint64                `json:"max_function_count"`
	Summary      *model.ProfileSummary `json:"summary,omitempty"`
	Records      []*model.NamedRecord  `json:"records,omitempty"`
}

var showCmd = &cobra.Command{
	Use:   "show <profile>",
	Short: "Show the contents of a counter profile",
	Long: `Show decodes a single raw, indexed or text counter profile and
prints its records and run-level statistics. The format is detected
from the file contents.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		registry := profdata.NewRegistry(GetLogger())
		p, ok := registry.Detect(data)
		if !ok {
			return fmt.Errorf("unrecognized profile format: %s", path)
		}
		profile, err := p.Parse(cmd.Context(), data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if showJSON {
			return writer.NewPrettyJSONWriter[*showOutput]().
				Write(buildShowOutput(p.Name(), profile), cmd.OutOrStdout())
		}
		return printProfile(cmd, p.Name(), profile)
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Emit machine-readable JSON")
	showCmd.Flags().BoolVar(&showAllFunctions, "all-functions", false, "List every function record")
	showCmd.Flags().BoolVar(&showCounts, "counts", false, "Print counter values with each record")
	showCmd.Flags().StringVar(&showFunction, "function", "", "Show only records with this function name")

	rootCmd.AddCommand(showCmd)
}

func buildShowOutput(format string, profile *model.InstrumentationProfile) *showOutput {
	out := &showOutput{
		Format:       format,
		Version:      profile.Version,
		IsIR:         profile.IsIR,
		HasCSIR:      profile.HasCSIR,
		IsEntryFirst: profile.IsEntryFirst,
		ByteCoverage: profile.IsByteCoverage,
		NumFunctions: profile.NumRecords(),
		MaxCount:     maxFunctionCount(profile),
		Summary:      profile.Summary,
	}
	if showAllFunctions || showFunction != "" {
		out.Records = selectRecords(profile)
	}
	return out
}

func printProfile(cmd *cobra.Command, format string, profile *model.InstrumentationProfile) error {
	w := cmd.OutOrStdout()

	if showAllFunctions || showFunction != "" {
		for _, rec := range selectRecords(profile) {
			fmt.Fprintf(w, "  %s:\n", recordName(rec))
			fmt.Fprintf(w, "    Hash: 0x%016x\n", rec.Hash)
			fmt.Fprintf(w, "    Counters: %d\n", len(rec.Counts))
			if showCounts {
				fmt.Fprintf(w, "    Counter Values: %v\n", rec.Counts)
			}
			if rec.ValueData != nil {
				fmt.Fprintf(w, "    Indirect Call Sites: %d\n", len(rec.ValueData.IndirectCallSites))
				fmt.Fprintf(w, "    Memory Op Sites: %d\n", len(rec.ValueData.MemOpSizes))
			}
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "Format:\t%s\n", format)
	if profile.Version != 0 {
		fmt.Fprintf(tw, "Version:\t%d\n", profile.Version)
	}
	fmt.Fprintf(tw, "Instrumentation level:\t%s\n", instrumentationLevel(profile))
	fmt.Fprintf(tw, "Total functions:\t%d\n", profile.NumRecords())
	fmt.Fprintf(tw, "Maximum function count:\t%d\n", maxFunctionCount(profile))
	if profile.Summary != nil {
		fmt.Fprintf(tw, "Total blocks:\t%d\n", profile.Summary.TotalBlocks)
		fmt.Fprintf(tw, "Maximum block count:\t%d\n", profile.Summary.MaxBlockCount)
	}
	return tw.Flush()
}

func selectRecords(profile *model.InstrumentationProfile) []*model.NamedRecord {
	if showFunction != "" {
		return profile.RecordsByName(showFunction)
	}
	return profile.Records()
}

// recordName falls back to the hash for records whose name section was
// stripped from the profile.
func recordName(rec *model.NamedRecord) string {
	if rec.Name != "" {
		return rec.Name
	}
	return fmt.Sprintf("<unknown:0x%x>", rec.Hash)
}

func instrumentationLevel(profile *model.InstrumentationProfile) string {
	switch {
	case profile.HasCSIR:
		return "IR (context sensitive)"
	case profile.IsIR:
		return "IR"
	default:
		return "Front-end"
	}
}

// maxFunctionCount is the largest first counter across records, the
// conventional proxy for a function's entry count.
func maxFunctionCount(profile *model.InstrumentationProfile) uint64 {
	var max uint64
	for _, rec := range profile.Records() {
		if len(rec.Counts) > 0 && rec.Counts[0] > max {
			max = rec.Counts[0]
		}
	}
	return max
}
