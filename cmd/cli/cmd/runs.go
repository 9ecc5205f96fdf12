package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/covparse/internal/storage"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/writer"
)

var (
	runsLimit  int
	runsOffset int
	runsPurge  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded coverage runs",
	Long:  `Runs lists and inspects the coverage runs recorded by report --upload.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded coverage runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		repos, err := openRepositories()
		if err != nil {
			return err
		}
		defer repos.Close()

		runs, err := repos.Runs.ListRuns(cmd.Context(), runsLimit, runsOffset)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "UUID\tLABEL\tFORMAT\tSTATUS\tLINES\tBRANCHES\tCREATED")
		for _, run := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\t%.1f%%\t%s\n",
				run.RunUUID, run.Label, run.Format, run.Status,
				run.LineRate()*100, run.BranchRate()*100,
				run.CreateTime.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-uuid>",
	Short: "Show one coverage run with its per-file summaries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repos, err := openRepositories()
		if err != nil {
			return err
		}
		defer repos.Close()

		run, err := repos.Runs.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		files, err := repos.Runs.GetFileSummaries(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:      %s\n", run.RunUUID)
		if run.Label != "" {
			fmt.Fprintf(w, "Label:    %s\n", run.Label)
		}
		fmt.Fprintf(w, "Format:   %s\n", run.Format)
		fmt.Fprintf(w, "Status:   %s\n", run.Status)
		if run.StatusInfo != "" {
			fmt.Fprintf(w, "Info:     %s\n", run.StatusInfo)
		}
		fmt.Fprintf(w, "Lines:    %d/%d (%.1f%%)\n", run.LinesCovered, run.LinesTotal, run.LineRate()*100)
		fmt.Fprintf(w, "Branches: %d/%d (%.1f%%)\n", run.BranchesCovered, run.BranchesTotal, run.BranchRate()*100)
		fmt.Fprintf(w, "Created:  %s\n", run.CreateTime.Format("2006-01-02 15:04:05"))
		if run.ArtifactPath != "" {
			fmt.Fprintf(w, "Report:   %s\n", run.ArtifactPath)
		}

		if len(files) == 0 {
			return nil
		}
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tLINES\tBRANCHES\tFUNCTIONS")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%d/%d\t%d/%d\t%d\n",
				f.Path, f.LinesCovered, f.LinesTotal,
				f.BranchesCovered, f.BranchesTotal, f.Functions)
		}
		return tw.Flush()
	},
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-uuid>",
	Short: "Export a run's report into the local data directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		rep, err := storage.NewArtifactStore(backend).DownloadReport(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		runDir := cfg.GetRunDir(args[0])
		if err := os.MkdirAll(runDir, 0755); err != nil {
			return err
		}

		jsonPath := filepath.Join(runDir, "report.json")
		if err := writer.NewPrettyJSONWriter[*model.CoverageReport]().WriteToFile(rep, jsonPath); err != nil {
			return err
		}
		lcovPath := filepath.Join(runDir, "report.lcov")
		if err := writer.NewLCOVWriter().WriteToFile(rep, lcovPath); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s\n", jsonPath)
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s\n", lcovPath)
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-uuid>",
	Short: "Delete a recorded coverage run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repos, err := openRepositories()
		if err != nil {
			return err
		}
		defer repos.Close()

		if err := repos.Runs.DeleteRun(cmd.Context(), args[0]); err != nil {
			return err
		}

		if runsPurge {
			backend, err := storage.NewStorage(&cfg.Storage)
			if err != nil {
				return err
			}
			if err := storage.NewArtifactStore(backend).DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Deleted coverage run %s\n", args[0])
		return nil
	},
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
	runsListCmd.Flags().IntVar(&runsOffset, "offset", 0, "Number of runs to skip")
	runsDeleteCmd.Flags().BoolVar(&runsPurge, "purge", false, "Also delete the run's stored artifacts")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}
