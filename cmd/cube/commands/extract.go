package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nenadatanasovski/memory-cube/internal/synthesis"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

var extractFlags struct {
	sourceType    string
	language      string
	minConfidence float64
	dedupThreshold float64
	apply         bool
	approve       []string
}

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract candidate nodes from text or code",
	Long: `extract runs the synthesis pipeline over one source file,
deduplicates the candidates against the graph and prints them with
recommendations. With --apply the recommendations are executed;
--approve gates application to the named candidate titles.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return types.Wrap(types.KindIO, "extract", err)
		}

		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		pipeline := synthesis.NewPipeline(synthesis.Options{
			Graph:           g,
			MinConfidence:   extractFlags.minConfidence,
			DedupThreshold:  extractFlags.dedupThreshold,
			RequireApproval: len(extractFlags.approve) > 0,
			Logger:          logger,
		})

		sourceType := synthesis.SourceType(extractFlags.sourceType)
		result, err := pipeline.Extract([]synthesis.Source{{
			Type:     sourceType,
			Content:  string(data),
			Language: extractFlags.language,
			Path:     args[0],
		}})
		if err != nil {
			return err
		}
		candidates, err := pipeline.Dedup(result)
		if err != nil {
			return err
		}

		if !extractFlags.apply {
			return printJSON(map[string]interface{}{
				"candidates": candidates,
				"relations":  result.Relations,
				"intents":    result.Intents,
			})
		}

		approved := make(map[string]bool, len(extractFlags.approve))
		for _, title := range extractFlags.approve {
			approved[title] = true
		}
		report, err := pipeline.CreateNodes(cmd.Context(), candidates, result.Relations, approved)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractFlags.sourceType, "type", "conversation", "source type: conversation or code")
	extractCmd.Flags().StringVar(&extractFlags.language, "language", "", "language hint for code sources")
	extractCmd.Flags().Float64Var(&extractFlags.minConfidence, "min-confidence", 0, "confidence floor (default 0.5)")
	extractCmd.Flags().Float64Var(&extractFlags.dedupThreshold, "dedup-threshold", 0, "merge threshold (default 0.8)")
	extractCmd.Flags().BoolVar(&extractFlags.apply, "apply", false, "apply recommendations to the graph")
	extractCmd.Flags().StringSliceVar(&extractFlags.approve, "approve", nil, "approved candidate title (repeatable; implies gating)")
	rootCmd.AddCommand(extractCmd)
}
