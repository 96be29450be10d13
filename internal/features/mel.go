package features

import "math"

const (
	numMels   = 128
	numMFCC   = 13
	topDB     = 80.0
	amin      = 1e-10
	melBreak  = 1000.0
	melLinear = 200.0 / 3
)

// hzToMel uses the Slaney scale: linear below 1 kHz, logarithmic above.
func hzToMel(hz float64) float64 {
	if hz < melBreak {
		return hz / melLinear
	}
	return melBreak/melLinear + math.Log(hz/melBreak)/(math.Log(6.4)/27)
}

func melToHz(mel float64) float64 {
	minLogMel := melBreak / melLinear
	if mel < minLogMel {
		return mel * melLinear
	}
	return melBreak * math.Exp((math.Log(6.4)/27)*(mel-minLogMel))
}

// melFilterBank builds [numMels][n/2+1] triangular filters from 0 Hz to
// Nyquist, each normalized to unit area.
func melFilterBank(mels, n, sampleRate int) [][]float64 {
	half := n/2 + 1
	fftFreqs := make([]float64, half)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(n)
	}

	lo, hi := hzToMel(0), hzToMel(float64(sampleRate)/2)
	points := make([]float64, mels+2)
	for i := range points {
		points[i] = melToHz(lo + (hi-lo)*float64(i)/float64(mels+1))
	}

	bank := make([][]float64, mels)
	for m := 0; m < mels; m++ {
		left, center, right := points[m], points[m+1], points[m+2]
		norm := 2.0 / (right - left)
		filter := make([]float64, half)
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			w := math.Min(lower, upper)
			if w > 0 {
				filter[k] = w * norm
			}
		}
		bank[m] = filter
	}
	return bank
}

// melSpectrogramDB returns the log-power mel spectrogram of x, mel-major:
// S[mel][frame], clipped to topDB below its peak.
func melSpectrogramDB(x []float64, sampleRate int) [][]float64 {
	power := PowerSTFT(x, FrameLength, HopLength)
	bank := melFilterBank(numMels, FrameLength, sampleRate)

	out := make([][]float64, numMels)
	peak := math.Inf(-1)
	for m, filter := range bank {
		row := make([]float64, len(power))
		for t, frame := range power {
			sum := 0.0
			for k, w := range filter {
				if w != 0 {
					sum += w * frame[k]
				}
			}
			row[t] = 10 * math.Log10(math.Max(amin, sum))
			if row[t] > peak {
				peak = row[t]
			}
		}
		out[m] = row
	}

	floor := peak - topDB
	for _, row := range out {
		for t, v := range row {
			if v < floor {
				row[t] = floor
			}
		}
	}
	return out
}

// MFCC returns numMFCC cepstral coefficients per frame, coefficient-major:
// C[coef][frame]. Coefficients are the orthonormal DCT-II of the log mel
// spectrum.
func MFCC(x []float64, sampleRate int) [][]float64 {
	S := melSpectrogramDB(x, sampleRate)
	if len(S) == 0 || len(S[0]) == 0 {
		return nil
	}
	frames := len(S[0])

	out := make([][]float64, numMFCC)
	for c := 0; c < numMFCC; c++ {
		scale := math.Sqrt(2.0 / numMels)
		if c == 0 {
			scale = math.Sqrt(1.0 / numMels)
		}
		row := make([]float64, frames)
		for t := 0; t < frames; t++ {
			sum := 0.0
			for m := 0; m < numMels; m++ {
				sum += S[m][t] * math.Cos(math.Pi*float64(c)*(2*float64(m)+1)/(2*numMels))
			}
			row[t] = sum * scale
		}
		out[c] = row
	}
	return out
}

func flatten(m [][]float64) []float64 {
	n := 0
	for _, row := range m {
		n += len(row)
	}
	out := make([]float64, 0, n)
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}
