package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/internal/scorer"
	"github.com/himanishpuri/LoopProfiler/pkg/loopprofiler"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show feedback statistics and model state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				out := cmd.OutOrStdout()
				st := p.Store().GetStatistics()

				rows := [][]string{
					{"Feedback", strconv.Itoa(st.TotalFeedbacks)},
					{"Good", strconv.Itoa(st.PositiveCount)},
					{"Bad", strconv.Itoa(st.NegativeCount)},
					{"Exported loops", strconv.Itoa(st.ExportedCount)},
					{"Export operations", strconv.Itoa(st.TotalExportOperations)},
				}
				info := p.Scorer().Info()
				if info.Trained {
					rows = append(rows,
						[]string{"Model", "trained"},
						[]string{"Model samples", strconv.Itoa(info.Samples)},
						[]string{"Model trained at", info.TrainedAt.Local().Format("2006-01-02 15:04:05")},
					)
				} else {
					rows = append(rows, []string{"Model", fmt.Sprintf("untrained (%d/%d samples)", st.TotalFeedbacks, scorer.MinTrainingSamples)})
				}
				if perf := st.ModelPerformance; perf != nil {
					rows = append(rows,
						[]string{"Accuracy", percent(perf.Accuracy) + "%"},
						[]string{"Precision", percent(perf.Precision) + "%"},
						[]string{"Recall", percent(perf.Recall) + "%"},
					)
				}
				fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

				if imp := p.Scorer().FeatureImportance(); imp != nil {
					names := append([]string{"finder_confidence"}, features.Names...)
					impRows := make([][]string, len(imp))
					for i, v := range imp {
						impRows[i] = []string{names[i], percent(v) + "%"}
					}
					fmt.Fprintln(out, renderTable([]string{"Input", "Importance"}, impRows, []columnAlignment{alignLeft, alignRight}))
				}
				return nil
			})
		},
	}
}

func newGoodCommand(ctx *commandContext) *cobra.Command {
	var minScore float64

	cmd := &cobra.Command{
		Use:   "good",
		Short: "List loops rated good whose AI score is at least --min",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				records := p.Store().GetGoodLoops(minScore)
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No good loops found")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRecords(records))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minScore, "min", 70, "Minimum AI score (0..100)")
	return cmd
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Retrain the model on all feedback and evaluate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				res, err := p.Retrain(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !res.Trained {
					fmt.Fprintf(out, "Not enough feedback to train: %d of %d samples\n", res.Samples, scorer.MinTrainingSamples)
					return nil
				}
				fmt.Fprintf(out, "Trained on %d samples\n", res.Samples)
				if ev := res.Evaluation; ev != nil {
					fmt.Fprintf(out, "Accuracy %s%% (±%s, %d folds)  Precision %s%%  Recall %s%%\n",
						percent(ev.Accuracy), percent(ev.AccuracyStd), ev.Folds, percent(ev.Precision), percent(ev.Recall))
				}
				return nil
			})
		},
	}
}
