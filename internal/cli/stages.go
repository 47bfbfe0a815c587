package cli

import (
	"fmt"
	"io"
	"slices"

	"plenario/internal/flags"
	"plenario/internal/stages"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var stagesListQuiet bool

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List pipeline stages",
	Long: `Inspect the pipeline stages.

This command group helps you discover which stages exist and what each stage
reads and writes. Stages are executed by "plenario run" (see "plenario run --help").

Examples:
  # List all stages in pipeline order
  plenario stages list
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var stagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available stages",
	Long: `List all stages registered in this build, in pipeline order.

Examples:
  plenario stages list
  plenario stages list -q

Output:
  A vertical list of stages:
    ----------------------------------------
    STAGE {N}: {ID}
    ----------------------------------------
    {TITLE}
    {DESCRIPTION}
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, s := range stages.List() {
			if stagesListQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), s.ID())
			} else {
				printStage(cmd.OutOrStdout(), s)
			}
		}
		return nil
	},
}

var stagesShowCmd = &cobra.Command{
	Use:   "show [stage-id]",
	Short: "Show details of a specific stage",
	Long: `Show details of a specific stage by its ID.

Examples:
  plenario stages show ocr
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ok := stages.Lookup(args[0])
		if !ok {
			return fmt.Errorf("stage not found: %s", args[0])
		}
		printStage(cmd.OutOrStdout(), s)
		return nil
	},
}

func printStage(w io.Writer, s stages.Stage) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	if n := slices.Index(stages.Pipeline, s.ID()); n >= 0 {
		bold.Fprintf(w, "STAGE %d: %s\n", n+1, s.ID())
	} else {
		bold.Fprintf(w, "STAGE: %s\n", s.ID())
	}
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, s.Title())
	fmt.Fprintln(w, s.Description())
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(stagesCmd)
	stagesCmd.AddCommand(stagesListCmd)
	stagesListCmd.Flags().BoolVarP(&stagesListQuiet, flags.FlagQuiet, "q", false, "Only print stage IDs")
	stagesCmd.AddCommand(stagesShowCmd)
}
