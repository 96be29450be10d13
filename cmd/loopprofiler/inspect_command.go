package main

import (
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"strconv"

	"github.com/eligwz/spectrogram"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/pkg/loopprofiler"
	"github.com/himanishpuri/LoopProfiler/pkg/utils"
)

const (
	inspectWidth  = 512
	inspectHeight = 256
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var start, end int64
	var outDir string

	cmd := &cobra.Command{
		Use:   "inspect <track>",
		Short: "Compute features for one loop and render its boundary spectrograms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if end <= start {
				return fmt.Errorf("--end must be greater than --start")
			}
			return ctx.withProfiler(cmd, func(p *loopprofiler.Profiler) error {
				out := cmd.OutOrStdout()
				track := p.Extractor().Track(args[0])
				buf, err := track.Buffer(cmd.Context(), 0)
				if err != nil {
					return err
				}

				res := features.Compute(buf, int(start), int(end))
				rows := make([][]string, len(features.Names))
				for i, v := range res.Vector.Slice() {
					rows[i] = []string{features.Names[i], strconv.FormatFloat(v, 'f', 4, 64)}
				}
				fmt.Fprintln(out, renderTable([]string{"Feature", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				for _, fb := range res.Fallbacks {
					fmt.Fprintf(out, "defaulted: %s\n", fb)
				}

				if outDir == "" {
					outDir = filepath.Join(p.Config().Paths.DataDir, "inspect")
				}
				if err := utils.MakeDir(outDir); err != nil {
					return err
				}
				atStart, atEnd := features.BoundaryWindows(buf, int(start), int(end))
				stem := fmt.Sprintf("%s_%d_%d", track.Name(), start, end)
				for _, w := range []struct {
					name    string
					samples []float64
				}{{"start", atStart}, {"end", atEnd}} {
					if len(w.samples) == 0 {
						fmt.Fprintf(out, "%s window is empty, skipped\n", w.name)
						continue
					}
					path := filepath.Join(outDir, stem+"_"+w.name+".png")
					if err := renderSpectrogram(w.samples, buf.SampleRate, path); err != nil {
						return fmt.Errorf("render %s window: %w", w.name, err)
					}
					fmt.Fprintf(out, "Saved %s\n", path)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&start, "start", 0, "Loop start in samples")
	cmd.Flags().Int64Var(&end, "end", 0, "Loop end in samples")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory for the PNG files (default <data_dir>/inspect)")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func renderSpectrogram(samples []float64, sampleRate int, path string) error {
	img := spectrogram.NewImage128(image.Rect(0, 0, inspectWidth, inspectHeight))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, magnitude, linear scale.
	spectrogram.Drawfft(img, samples, uint32(sampleRate), uint32(inspectHeight), false, false, true, false)
	return spectrogram.SavePng(img, path)
}
