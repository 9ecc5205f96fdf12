package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/covparse/internal/covmap"
	"github.com/covparse/internal/object"
	"github.com/covparse/internal/parser/textprof"
	"github.com/covparse/internal/profdata"
	"github.com/covparse/internal/report"
	"github.com/covparse/internal/repository"
	"github.com/covparse/internal/storage"
	"github.com/covparse/pkg/codec"
	"github.com/covparse/pkg/filter"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/parallel"
	"github.com/covparse/pkg/utils"
	"github.com/covparse/pkg/writer"
)

var (
	reportBinary          string
	reportOutput          string
	reportFormat          string
	reportIncludePrefixes []string
	reportExcludePrefixes []string
	reportPathRemaps      []string
	reportLenient         bool
	reportJobs            int
	reportUpload          bool
	reportLabel           string
)

var reportCmd = &cobra.Command{
	Use:   "report -b <binary> <profile>...",
	Short: "Build a source coverage report",
	Long: `Report merges the given counter profiles, extracts the coverage
mapping from the instrumented binary, and joins the two into per-file
line, branch and function coverage.

With --upload the report and its LCOV rendering are written to the
configured storage backend and a coverage run row is recorded in the
database.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportFormat != "json" && reportFormat != "lcov" {
			return fmt.Errorf("unsupported output format: %s", reportFormat)
		}

		timer := utils.NewTimer("report", utils.WithLogger(GetLogger()), utils.WithEnabled(verbose))

		sections, err := object.Open(reportBinary)
		if err != nil {
			return fmt.Errorf("failed to read binary %s: %w", reportBinary, err)
		}
		if !sections.HasCoverage() {
			return fmt.Errorf("%s carries no coverage mapping sections", reportBinary)
		}

		jobs := reportJobs
		if jobs == 0 {
			jobs = cfg.Decode.MaxWorker
		}
		loader := profdata.NewLoader(&profdata.Options{
			Logger:    GetLogger(),
			MaxWorker: jobs,
		})

		pt := timer.Start("load profiles")
		profile, err := loader.Load(cmd.Context(), args)
		pt.Stop()
		if err != nil {
			return err
		}

		resolver, err := buildResolver(sections, profile)
		if err != nil {
			return err
		}

		extractor := covmap.New(&covmap.Options{
			Logger:           GetLogger(),
			Resolver:         resolver,
			TolerateFailures: reportLenient || cfg.Decode.Lenient,
			Order:            sections.Order,
		})
		pt = timer.Start("extract mapping")
		mapping, err := extractor.Extract(sections.Covmap, sections.Covfun)
		pt.Stop()
		if err != nil {
			return fmt.Errorf("failed to extract coverage mapping: %w", err)
		}

		remaps, err := buildPathRemaps()
		if err != nil {
			return err
		}
		builder := report.NewBuilder(&report.Options{
			Logger: GetLogger(),
			Filter: buildReportFilter(),
			Remaps: remaps,
		})
		pt = timer.Start("build report")
		rep, err := builder.Build(profile, mapping)
		pt.Stop()
		if err != nil {
			return err
		}

		if err := writeReport(cmd, rep); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Files: %d, line coverage: %.2f%%\n",
			len(rep.Files), rep.TotalLineRate()*100)

		if reportUpload {
			pt = timer.Start("upload")
			err = uploadRun(cmd, rep, profile)
			pt.Stop()
			if err != nil {
				return err
			}
		}
		timer.PrintSummary()
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportBinary, "binary", "b", "", "Instrumented binary holding the coverage mapping")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file path (default stdout)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json or lcov")
	reportCmd.Flags().StringSliceVar(&reportIncludePrefixes, "include-prefix", nil, "Only report files under these path prefixes")
	reportCmd.Flags().StringSliceVar(&reportExcludePrefixes, "exclude-prefix", nil, "Drop files under these path prefixes")
	reportCmd.Flags().StringArrayVar(&reportPathRemaps, "path-remap", nil, "Rewrite a build path prefix to a local one, as source,dest (repeatable)")
	reportCmd.Flags().BoolVar(&reportLenient, "lenient", false, "Skip functions whose mapping data fails to decode")
	reportCmd.Flags().IntVarP(&reportJobs, "jobs", "j", 0, "Merge worker count (default from config)")
	reportCmd.Flags().BoolVar(&reportUpload, "upload", false, "Store the report and record a coverage run")
	reportCmd.Flags().StringVar(&reportLabel, "label", "", "Label for the recorded coverage run")
	reportCmd.MarkFlagRequired("binary")

	rootCmd.AddCommand(reportCmd)
}

// buildResolver joins the binary's name section with the profile's
// symbol table. The binary side wins on collisions since it names the
// exact build the mapping came from.
func buildResolver(sections *object.Sections, profile *model.InstrumentationProfile) (covmap.SymbolResolver, error) {
	symtab := make(map[uint64]string, len(profile.Symtab))
	for hash, name := range profile.Symtab {
		symtab[hash] = name
	}
	if len(sections.ProfNames) > 0 {
		names, err := codec.DecodeNameBlob(sections.ProfNames)
		if err != nil {
			return nil, fmt.Errorf("failed to decode name section: %w", err)
		}
		for _, name := range names {
			symtab[codec.NameHashOrder(name, sections.Order)] = name
		}
	}
	return func(hash uint64) (string, bool) {
		name, ok := symtab[hash]
		return name, ok
	}, nil
}

func buildReportFilter() *filter.FileFilter {
	if len(reportIncludePrefixes) == 0 && len(reportExcludePrefixes) == 0 {
		return nil
	}
	f := filter.NewFileFilter()
	for _, prefix := range reportIncludePrefixes {
		f.IncludePrefix(prefix)
	}
	for _, prefix := range reportExcludePrefixes {
		f.ExcludePrefix(prefix)
	}
	return f
}

func buildPathRemaps() ([]*filter.PathRemap, error) {
	var remaps []*filter.PathRemap
	for _, spec := range reportPathRemaps {
		remap, err := filter.ParsePathRemap(spec)
		if err != nil {
			return nil, err
		}
		remaps = append(remaps, remap)
	}
	return remaps, nil
}

func writeReport(cmd *cobra.Command, rep *model.CoverageReport) error {
	if reportFormat == "lcov" {
		w := writer.NewLCOVWriter()
		if reportOutput == "" || reportOutput == "-" {
			return w.Write(rep, cmd.OutOrStdout())
		}
		return w.WriteToFile(rep, reportOutput)
	}

	w := writer.NewPrettyJSONWriter[*model.CoverageReport]()
	if reportOutput == "" || reportOutput == "-" {
		return w.Write(rep, cmd.OutOrStdout())
	}
	return w.WriteToFile(rep, reportOutput)
}

// uploadRun persists the report artifacts and records the run.
func uploadRun(cmd *cobra.Command, rep *model.CoverageReport, profile *model.InstrumentationProfile) error {
	ctx := cmd.Context()
	runUUID := uuid.NewString()

	backend, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return err
	}
	artifacts := storage.NewArtifactStore(backend)

	reportKey, err := artifacts.UploadReport(ctx, runUUID, rep)
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	if _, err := artifacts.UploadLCOV(ctx, runUUID, rep); err != nil {
		return fmt.Errorf("failed to upload lcov: %w", err)
	}

	// Keep the merged counters alongside the report so a run can be
	// re-reported against a newer build of the binary.
	var merged bytes.Buffer
	if err := textprof.NewWriter().Write(profile, &merged); err != nil {
		return err
	}
	if _, err := artifacts.UploadProfile(ctx, runUUID, "merged.proftext", &merged); err != nil {
		return fmt.Errorf("failed to upload merged profile: %w", err)
	}

	inputs := cmd.Flags().Args()
	if _, err := parallel.ForEach(ctx, inputs, parallel.DefaultPoolConfig(),
		func(ctx context.Context, path string) error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = artifacts.UploadProfile(ctx, runUUID, path, f)
			return err
		}); err != nil {
		return fmt.Errorf("failed to upload input profiles: %w", err)
	}

	repos, err := openRepositories()
	if err != nil {
		return err
	}
	defer repos.Close()

	run := &repository.CoverageRun{
		RunUUID:      runUUID,
		Label:        reportLabel,
		Format:       detectInputFormat(cmd),
		Status:       repository.RunStatusComplete,
		ArtifactPath: reportKey,
	}
	run.ApplyReport(rep)
	if profile.Summary != nil {
		if err := run.SetSummary(profile.Summary); err != nil {
			return err
		}
	}

	files := repository.NewFileSummaries(runUUID, rep)
	if err := repos.Runs.CreateRun(ctx, run, files); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Recorded coverage run %s\n", runUUID)
	return nil
}

// detectInputFormat names the format of the first profile argument.
func detectInputFormat(cmd *cobra.Command) string {
	args := cmd.Flags().Args()
	if len(args) == 0 {
		return ""
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return ""
	}
	p, ok := profdata.NewRegistry(GetLogger()).Detect(data)
	if !ok {
		return ""
	}
	return p.Name()
}

// openRepositories connects to the configured database and runs
// migrations.
func openRepositories() (*repository.Repositories, error) {
	db, err := repository.NewGormDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}
	return repository.NewRepositories(db, cfg.Database.Type), nil
}
