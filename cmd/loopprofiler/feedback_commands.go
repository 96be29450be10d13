package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/LoopProfiler/internal/feedback"
	"github.com/himanishpuri/LoopProfiler/pkg/loopprofiler"
)

func newFeedbackCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record and manage loop feedback",
	}
	cmd.AddCommand(newFeedbackAddCommand(ctx))
	cmd.AddCommand(newFeedbackListCommand(ctx))
	cmd.AddCommand(newFeedbackShowCommand(ctx))
	cmd.AddCommand(newFeedbackExportCommand(ctx))
	cmd.AddCommand(newFeedbackDeleteCommand(ctx))
	return cmd
}

func parseRating(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "good", "up", "yes":
		return 1, nil
	case "0", "bad", "down", "no":
		return 0, nil
	}
	return 0, fmt.Errorf("invalid rating %q (use good or bad)", s)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid feedback id %q", s)
	}
	return id, nil
}

func newFeedbackAddCommand(ctx *commandContext) *cobra.Command {
	var (
		start, end int64
		rate       int
		rating     string
		score      float64
		source     string
		exported   bool
		settings   map[string]string
	)

	cmd := &cobra.Command{
		Use:   "add <track>",
		Short: "Rate a loop candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRating(rating)
			if err != nil {
				return err
			}
			src := feedback.Source(source)
			if src == "" {
				src = feedback.SourceThumbsDown
				if r == 1 {
					src = feedback.SourceThumbsUp
				}
				if exported {
					src = feedback.SourceExport
				}
			}
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				id, err := p.RecordFeedback(cmd.Context(), loopprofiler.Judgment{
					TrackPath:      args[0],
					Start:          start,
					End:            end,
					SampleRate:     rate,
					ExternalScore:  score,
					Rating:         r,
					Source:         src,
					Exported:       exported,
					ExportSettings: settings,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded feedback #%d (%d total)\n", id, p.Store().Len())
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&start, "start", 0, "Loop start in samples")
	cmd.Flags().Int64Var(&end, "end", 0, "Loop end in samples")
	cmd.Flags().IntVar(&rate, "rate", 0, "Sample rate of --start/--end (default: the track's rate)")
	cmd.Flags().StringVarP(&rating, "rating", "r", "", "good or bad")
	cmd.Flags().Float64Var(&score, "score", 0, "Loop finder confidence, 0..1")
	cmd.Flags().StringVar(&source, "source", "", "thumbs_up, thumbs_down, export or manual")
	cmd.Flags().BoolVar(&exported, "exported", false, "The loop was exported")
	cmd.Flags().StringToStringVar(&settings, "set", nil, "Export setting key=value (repeatable)")
	_ = cmd.MarkFlagRequired("end")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func newFeedbackListCommand(ctx *commandContext) *cobra.Command {
	var track string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				records := p.Store().All()
				if track != "" {
					records = p.Store().GetByTrack(track)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No feedback recorded")
					return nil
				}
				fmt.Fprintln(out, renderRecords(records))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&track, "track", "", "Only show feedback for this track")
	return cmd
}

func renderRecords(records []feedback.Record) string {
	headers := []string{"ID", "Track", "Start s", "Length s", "Rating", "Source", "Finder", "AI", "Exports", "Created"}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rating := "bad"
		if r.UserFeedback.Rating == 1 {
			rating = "good"
		}
		rows = append(rows, []string{
			strconv.FormatUint(r.ID, 10),
			r.AudioFile,
			seconds(r.LoopCandidate.StartTimeMs),
			seconds(r.LoopCandidate.LoopDurationMs),
			rating,
			string(r.UserFeedback.Source),
			percent(r.Scores.External),
			optional(r.Scores.AIPredicted, "%.1f"),
			strconv.Itoa(r.ExportInfo.ExportCount),
			r.Timestamps.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(headers, rows, aligns)
}

func newFeedbackShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one feedback record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				rec, ok := p.Store().GetByID(id)
				if !ok {
					return fmt.Errorf("feedback #%d not found", id)
				}
				data, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
}

func newFeedbackExportCommand(ctx *commandContext) *cobra.Command {
	var settings map[string]string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Record an export of a rated loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				ok, err := p.RecordExport(id, settings)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("feedback #%d not found", id)
				}
				rec, _ := p.Store().GetByID(id)
				fmt.Fprintf(cmd.OutOrStdout(), "Feedback #%d exported %d time(s)\n", id, rec.ExportInfo.ExportCount)
				return nil
			})
		},
	}
	cmd.Flags().StringToStringVar(&settings, "set", nil, "Export setting key=value (repeatable)")
	return cmd
}

func newFeedbackDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a feedback record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				ok, err := p.DeleteFeedback(id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("feedback #%d not found", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted feedback #%d\n", id)
				return nil
			})
		},
	}
}
