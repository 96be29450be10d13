package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	startBPM   = 120.0
	minBPM     = 30.0
	maxBPM     = 320.0
	tightness  = 100.0
	acDuration = 8.0 // seconds of onset envelope used for tempo estimation
)

// onsetEnvelope is the spectral flux of the log mel spectrogram: the mean
// over mel bands of the positive first difference, one value per frame.
func onsetEnvelope(x []float64, sampleRate int) []float64 {
	S := melSpectrogramDB(x, sampleRate)
	if len(S) == 0 {
		return nil
	}
	frames := len(S[0])
	env := make([]float64, frames)
	for t := 1; t < frames; t++ {
		sum := 0.0
		for m := range S {
			if d := S[m][t] - S[m][t-1]; d > 0 {
				sum += d
			}
		}
		env[t] = sum / float64(len(S))
	}
	return env
}

// estimateTempo picks the autocorrelation lag of the onset envelope with
// the highest weight under a log-normal prior centered on startBPM.
func estimateTempo(env []float64, sampleRate int) float64 {
	fps := float64(sampleRate) / HopLength
	maxLag := int(acDuration * fps)
	if maxLag >= len(env) {
		maxLag = len(env) - 1
	}

	best, bestBPM := 0.0, 0.0
	for lag := 1; lag <= maxLag; lag++ {
		bpm := 60 * fps / float64(lag)
		if bpm < minBPM || bpm > maxBPM {
			continue
		}
		ac := 0.0
		for t := lag; t < len(env); t++ {
			ac += env[t] * env[t-lag]
		}
		d := math.Log2(bpm) - math.Log2(startBPM)
		w := ac * math.Exp(-0.5*d*d)
		if w > best {
			best, bestBPM = w, bpm
		}
	}
	return bestBPM
}

// beatTrack returns beat positions in frames using dynamic programming
// over the onset envelope: each beat maximizes onset strength plus a
// penalty for deviating from the estimated period.
func beatTrack(x []float64, sampleRate int) []int {
	env := onsetEnvelope(x, sampleRate)
	if len(env) < 2 {
		return nil
	}
	if floats.Max(env) <= 0 {
		return nil
	}

	bpm := estimateTempo(env, sampleRate)
	if bpm <= 0 {
		return nil
	}
	period := 60 * float64(sampleRate) / HopLength / bpm

	sd := stat.StdDev(env, nil)
	if sd == 0 || !finite(sd) {
		return nil
	}
	norm := make([]float64, len(env))
	for i, v := range env {
		norm[i] = v / sd
	}

	local := localScore(norm, period)
	peak := floats.Max(local)

	cum := make([]float64, len(local))
	back := make([]int, len(local))
	lo, hi := int(math.Round(period/2)), int(math.Round(2*period))
	if lo < 1 {
		lo = 1
	}
	first := true
	for i := range local {
		back[i] = -1
		bestScore := math.Inf(-1)
		for j := i - hi; j <= i-lo; j++ {
			if j < 0 {
				continue
			}
			r := math.Log(float64(i-j) / period)
			s := cum[j] - tightness*r*r
			if s > bestScore {
				bestScore, back[i] = s, j
			}
		}
		if back[i] < 0 {
			cum[i] = local[i]
		} else {
			cum[i] = local[i] + bestScore
		}
		// Until the first onset, a beat has nothing to chain from.
		if first && local[i] < 0.01*peak {
			back[i] = -1
		} else {
			first = false
		}
	}

	last := lastBeat(cum)
	if last < 0 {
		return nil
	}
	var beats []int
	for b := last; b >= 0; b = back[b] {
		beats = append(beats, b)
	}
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}
	return trimBeats(local, beats)
}

// localScore smooths the onset envelope with a Gaussian whose width
// follows the beat period.
func localScore(env []float64, period float64) []float64 {
	half := int(math.Round(period))
	kernel := make([]float64, 2*half+1)
	for i := range kernel {
		t := float64(i-half) * 32 / period
		kernel[i] = math.Exp(-0.5 * t * t)
	}

	out := make([]float64, len(env))
	for i := range env {
		sum := 0.0
		for k, w := range kernel {
			j := i + k - half
			if j >= 0 && j < len(env) {
				sum += w * env[j]
			}
		}
		out[i] = sum
	}
	return out
}

// lastBeat is the last local maximum of the cumulative score that exceeds
// half the median of all local maxima.
func lastBeat(cum []float64) int {
	var peaks []float64
	isPeak := func(i int) bool {
		left := i == 0 || cum[i] > cum[i-1]
		right := i == len(cum)-1 || cum[i] >= cum[i+1]
		return left && right
	}
	for i := range cum {
		if isPeak(i) {
			peaks = append(peaks, cum[i])
		}
	}
	if len(peaks) == 0 {
		return -1
	}
	sort.Float64s(peaks)
	threshold := 0.5 * stat.Quantile(0.5, stat.Empirical, peaks, nil)

	for i := len(cum) - 1; i >= 0; i-- {
		if isPeak(i) && cum[i] >= threshold {
			return i
		}
	}
	return -1
}

// trimBeats drops weak leading and trailing beats.
func trimBeats(local []float64, beats []int) []int {
	if len(beats) == 0 {
		return beats
	}
	sq := 0.0
	for _, b := range beats {
		sq += local[b] * local[b]
	}
	threshold := 0.5 * math.Sqrt(sq/float64(len(beats)))

	lo, hi := 0, len(beats)
	for lo < hi && local[beats[lo]] <= threshold {
		lo++
	}
	for hi > lo && local[beats[hi-1]] <= threshold {
		hi--
	}
	return beats[lo:hi]
}
