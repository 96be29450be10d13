package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Neutral is the value a feature takes when it cannot be measured.
const Neutral = 0.5

const (
	boundaryMs      = 200
	minSpectralLen  = 512
	minTempoSeconds = 2
)

// Fallback reasons.
const (
	ReasonEmptyWindow   = "empty_window"
	ReasonShortWindow   = "short_window"
	ReasonShortSpan     = "short_span"
	ReasonFewBeats      = "few_beats"
	ReasonUndefinedCorr = "undefined_correlation"
	ReasonShapeMismatch = "shape_mismatch"
	ReasonNonFinite     = "non_finite"
	ReasonPanic         = "panic"
)

// boundaryWindow returns x[b-w, b+w) clipped to the buffer.
func boundaryWindow(x []float64, b, w int) []float64 {
	lo, hi := b-w, b+w
	if lo < 0 {
		lo = 0
	}
	if hi > len(x) {
		hi = len(x)
	}
	if lo >= hi {
		return nil
	}
	return x[lo:hi]
}

func meanAbs(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += math.Abs(v)
	}
	return sum / float64(len(x))
}

// amplitudeSmoothness compares the mean absolute amplitude at both
// boundaries.
func amplitudeSmoothness(a, b []float64) (float64, string) {
	if len(a) == 0 || len(b) == 0 {
		return Neutral, ReasonEmptyWindow
	}
	diff := math.Abs(meanAbs(a) - meanAbs(b))
	return clamp01(1 - 10*diff), ""
}

// spectralSimilarity correlates the flattened MFCC matrices of both
// boundaries.
func spectralSimilarity(a, b []float64, sampleRate int) (float64, string) {
	if len(a) < minSpectralLen || len(b) < minSpectralLen {
		return Neutral, ReasonShortWindow
	}
	fa := flatten(MFCC(a, sampleRate))
	fb := flatten(MFCC(b, sampleRate))
	if len(fa) != len(fb) {
		return Neutral, ReasonShapeMismatch
	}
	corr := stat.Correlation(fa, fb, nil)
	if !finite(corr) {
		return Neutral, ReasonUndefinedCorr
	}
	return clamp01((corr + 1) / 2), ""
}

// tempoConsistency scores how regular the beat grid inside the loop is.
// Intervals are measured in analysis frames.
func tempoConsistency(span []float64, sampleRate int) (float64, string) {
	if len(span) < minTempoSeconds*sampleRate {
		return Neutral, ReasonShortSpan
	}
	beats := beatTrack(span, sampleRate)
	if len(beats) < 2 {
		return Neutral, ReasonFewBeats
	}
	intervals := make([]float64, len(beats)-1)
	for i := 1; i < len(beats); i++ {
		intervals[i-1] = float64(beats[i] - beats[i-1])
	}
	_, sd := stat.PopMeanStdDev(intervals, nil)
	return clamp01(1 / (1 + sd/10)), ""
}

// rmsFrames is the per-frame root mean square energy over centered frames.
func rmsFrames(x []float64) []float64 {
	frames := centeredFrames(x, FrameLength, HopLength)
	out := make([]float64, len(frames))
	for t, f := range frames {
		out[t] = math.Sqrt(floats.Dot(f, f) / float64(len(f)))
	}
	return out
}

// loudnessMatching compares the mean RMS energy at both boundaries.
func loudnessMatching(a, b []float64) (float64, string) {
	if len(a) == 0 || len(b) == 0 {
		return Neutral, ReasonEmptyWindow
	}
	ra, rb := rmsFrames(a), rmsFrames(b)
	if len(ra) == 0 || len(rb) == 0 {
		return Neutral, ReasonEmptyWindow
	}
	diff := math.Abs(stat.Mean(ra, nil) - stat.Mean(rb, nil))
	return clamp01(1 - 20*diff), ""
}

// guard runs one feature calculation, replacing panics and non-finite
// results with Neutral.
func guard(fn func() (float64, string)) (v float64, reason string) {
	defer func() {
		if r := recover(); r != nil {
			v, reason = Neutral, fmt.Sprintf("%s: %v", ReasonPanic, r)
		}
	}()
	v, reason = fn()
	if !finite(v) {
		return Neutral, ReasonNonFinite
	}
	return v, reason
}
