package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/covparse/internal/parser/textprof"
	"github.com/covparse/internal/profdata"
)

var (
	mergeOutput string
	mergeJobs   int
)

var mergeCmd = &cobra.Command{
	Use:   "merge <profile>...",
	Short: "Merge counter profiles from multiple runs",
	Long: `Merge decodes each input profile, detecting its format, and combines
records with matching name and hash by saturating counter addition.
The merged profile is written in the text format, which every other
command accepts as input.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs := mergeJobs
		if jobs == 0 {
			jobs = cfg.Decode.MaxWorker
		}

		loader := profdata.NewLoader(&profdata.Options{
			Logger:    GetLogger(),
			MaxWorker: jobs,
		})
		merged, err := loader.Load(cmd.Context(), args)
		if err != nil {
			return err
		}

		if mergeOutput == "" || mergeOutput == "-" {
			return textprof.NewWriter().Write(merged, cmd.OutOrStdout())
		}
		if err := textprof.NewWriter().WriteToFile(merged, mergeOutput); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Merged %d profiles into %s (%d functions)\n",
			len(args), mergeOutput, merged.NumRecords())
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "Output file path (default stdout)")
	mergeCmd.Flags().IntVarP(&mergeJobs, "jobs", "j", 0, "Merge worker count (default from config)")

	rootCmd.AddCommand(mergeCmd)
}
