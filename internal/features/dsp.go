package features

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Frame parameters shared by every spectral feature.
const (
	FrameLength = 2048
	HopLength   = 512
)

// Hann returns a periodic Hann window of length n.
func Hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Hamming returns a symmetric Hamming window of length n.
func Hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// centeredFrames splits x into frames of length n every hop samples. The
// signal is zero padded by n/2 on both sides so frame t is centered on
// sample t*hop.
func centeredFrames(x []float64, n, hop int) [][]float64 {
	pad := n / 2
	padded := make([]float64, len(x)+2*pad)
	copy(padded[pad:], x)

	count := 1 + (len(padded)-n)/hop
	if count < 1 {
		return nil
	}
	frames := make([][]float64, count)
	for t := range frames {
		frames[t] = padded[t*hop : t*hop+n]
	}
	return frames
}

// PowerSTFT returns the time-major power spectrogram |X|^2 of x with
// centered frames: spec[frame][bin], bin in [0, n/2].
func PowerSTFT(x []float64, n, hop int) [][]float64 {
	window := Hann(n)
	frames := centeredFrames(x, n, hop)
	half := n/2 + 1

	spec := make([][]float64, len(frames))
	buf := make([]float64, n)
	for t, frame := range frames {
		for i := range buf {
			buf[i] = frame[i] * window[i]
		}
		bins := fft.FFTReal(buf)
		power := make([]float64, half)
		for k := 0; k < half; k++ {
			re, im := real(bins[k]), imag(bins[k])
			power[k] = re*re + im*im
		}
		spec[t] = power
	}
	return spec
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
