package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/LoopProfiler/pkg/loopprofiler"
)

func newScoreCommand(ctx *commandContext) *cobra.Command {
	var brute, noCache, byAI bool

	cmd := &cobra.Command{
		Use:   "score <track>",
		Short: "Find loop candidates for a track and score them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("brute-force") {
				cfg.Candidates.BruteForce = brute
			}
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				out := cmd.OutOrStdout()
				scored, found, err := p.Score(cmd.Context(), args[0], cfg.Candidates.BruteForce, loopprofiler.ScoreOptions{
					NoCache:  noCache,
					SortByAI: byAI,
					Progress: func(done, total int) {
						fmt.Fprintf(cmd.ErrOrStderr(), "\ranalyzing %d/%d", done, total)
						if done == total {
							fmt.Fprintln(cmd.ErrOrStderr())
						}
					},
				})
				if err != nil {
					return err
				}

				source := "new"
				if found.Cached {
					source = "cached"
				}
				fmt.Fprintf(out, "%d candidates (%s export %s)\n", len(scored), source, found.File)
				if found.Skipped > 0 {
					fmt.Fprintf(out, "%d malformed lines skipped\n", found.Skipped)
				}
				fmt.Fprintln(out, renderScored(scored))
				if !p.Scorer().Trained() {
					fmt.Fprintln(out, "AI scores appear after 10 feedback entries (see `loopprofiler feedback add`).")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&brute, "brute-force", false, "Run the loop finder in brute-force mode")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Recompute features even when cached")
	cmd.Flags().BoolVar(&byAI, "sort-ai", false, "Order candidates by AI score")
	return cmd
}

func renderScored(scored []loopprofiler.Scored) string {
	headers := []string{"#", "Start", "End", "Finder", "AI", "Conf", "Smooth", "Spectral", "Tempo", "Loudness"}
	aligns := []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(scored))
	for i, s := range scored {
		ai, conf := "-", "-"
		if s.AI != nil {
			ai = strconv.FormatFloat(s.AI.Score, 'f', 1, 64)
			conf = strconv.FormatFloat(s.AI.Confidence, 'f', 2, 64)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(s.Start, 10),
			strconv.FormatInt(s.End, 10),
			percent(s.Confidence),
			ai,
			conf,
			strconv.FormatFloat(s.Features.AmplitudeSmoothness, 'f', 3, 64),
			strconv.FormatFloat(s.Features.SpectralSimilarity, 'f', 3, 64),
			strconv.FormatFloat(s.Features.TempoConsistency, 'f', 3, 64),
			strconv.FormatFloat(s.Features.LoudnessMatching, 'f', 3, 64),
		})
	}
	return renderTable(headers, rows, aligns)
}
