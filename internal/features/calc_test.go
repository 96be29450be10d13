package features

import (
	"math"
	"strings"
	"testing"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
)

func tone(n, rate int, freq, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

// clickTrack places a short decaying burst every period seconds.
func clickTrack(seconds float64, rate int, period float64) []float64 {
	out := make([]float64, int(seconds*float64(rate)))
	step := int(period * float64(rate))
	burst := rate / 100
	for s := 0; s < len(out); s += step {
		for i := 0; i < burst && s+i < len(out); i++ {
			decay := math.Exp(-float64(i) / float64(burst) * 5)
			out[s+i] = 0.9 * decay * math.Sin(2*math.Pi*1000*float64(i)/float64(rate))
		}
	}
	return out
}

func TestAmplitudeSmoothness(t *testing.T) {
	a := tone(8820, 44100, 440, 0.5)

	if v, reason := amplitudeSmoothness(a, a); v != 1 || reason != "" {
		t.Errorf("identical windows: got %v (%q), want 1", v, reason)
	}

	quiet := tone(8820, 44100, 440, 0.1)
	v, _ := amplitudeSmoothness(a, quiet)
	// mean |x| of a sine is 2A/pi
	want := 1 - 10*math.Abs(2*0.5/math.Pi-2*0.1/math.Pi)
	if want < 0 {
		want = 0
	}
	if math.Abs(v-want) > 1e-3 {
		t.Errorf("got %v, want %v", v, want)
	}

	if v, reason := amplitudeSmoothness(nil, a); v != Neutral || reason != ReasonEmptyWindow {
		t.Errorf("empty window: got %v (%q)", v, reason)
	}
}

func TestSpectralSimilarityShortWindow(t *testing.T) {
	short := tone(511, 44100, 440, 0.5)
	long := tone(4096, 44100, 440, 0.5)

	v, reason := spectralSimilarity(short, long, 44100)
	if v != Neutral {
		t.Errorf("got %v, want exactly %v", v, Neutral)
	}
	if reason != ReasonShortWindow {
		t.Errorf("reason = %q", reason)
	}
}

func TestSpectralSimilarityIdenticalWindows(t *testing.T) {
	a := tone(8820, 22050, 440, 0.5)
	v, reason := spectralSimilarity(a, a, 22050)
	if reason != "" {
		t.Fatalf("unexpected fallback %q", reason)
	}
	if v < 0.99 {
		t.Errorf("identical windows similarity = %v, want ~1", v)
	}
}

func TestSpectralSimilarityShapeMismatch(t *testing.T) {
	a := tone(8820, 22050, 440, 0.5)
	b := tone(4410, 22050, 440, 0.5)
	if v, reason := spectralSimilarity(a, b, 22050); v != Neutral || reason != ReasonShapeMismatch {
		t.Errorf("got %v (%q)", v, reason)
	}
}

func TestTempoConsistencyShortSpan(t *testing.T) {
	span := clickTrack(1.9, 22050, 0.5)
	v, reason := tempoConsistency(span, 22050)
	if v != Neutral || reason != ReasonShortSpan {
		t.Errorf("got %v (%q), want exactly 0.5 short_span", v, reason)
	}
}

func TestTempoConsistencySilence(t *testing.T) {
	span := make([]float64, 3*22050)
	v, reason := tempoConsistency(span, 22050)
	if v != Neutral || reason != ReasonFewBeats {
		t.Errorf("got %v (%q), want 0.5 few_beats", v, reason)
	}
}

func TestTempoConsistencyRegularClicks(t *testing.T) {
	span := clickTrack(6, 22050, 0.5)

	beats := beatTrack(span, 22050)
	if len(beats) < 2 {
		t.Fatalf("detected %d beats in a 120 BPM click track", len(beats))
	}

	v, reason := tempoConsistency(span, 22050)
	if reason != "" {
		t.Fatalf("unexpected fallback %q", reason)
	}
	if v <= 0.5 || v > 1 {
		t.Errorf("regular clicks scored %v", v)
	}
}

func TestLoudnessMatching(t *testing.T) {
	a := tone(8820, 44100, 440, 0.5)
	if v, _ := loudnessMatching(a, a); v != 1 {
		t.Errorf("identical windows: %v", v)
	}

	silent := make([]float64, 8820)
	v, reason := loudnessMatching(a, silent)
	if reason != "" {
		t.Fatalf("unexpected fallback %q", reason)
	}
	if v >= 1 {
		t.Errorf("tone vs silence should not match fully, got %v", v)
	}

	if v, reason := loudnessMatching(a, nil); v != Neutral || reason != ReasonEmptyWindow {
		t.Errorf("empty window: %v (%q)", v, reason)
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	v, reason := guard(func() (float64, string) { panic("index out of range") })
	if v != Neutral || !strings.HasPrefix(reason, ReasonPanic) {
		t.Errorf("got %v (%q)", v, reason)
	}

	v, reason = guard(func() (float64, string) { return math.NaN(), "" })
	if v != Neutral || reason != ReasonNonFinite {
		t.Errorf("NaN: got %v (%q)", v, reason)
	}
}

func TestBoundaryWindowClips(t *testing.T) {
	x := make([]float64, 1000)
	if got := len(boundaryWindow(x, 50, 100)); got != 150 {
		t.Errorf("clipped at start: %d, want 150", got)
	}
	if got := len(boundaryWindow(x, 950, 100)); got != 150 {
		t.Errorf("clipped at end: %d, want 150", got)
	}
	if boundaryWindow(x, 2000, 100) != nil {
		t.Error("window past the buffer should be empty")
	}
}

func TestComputeDeterministicAndBounded(t *testing.T) {
	rate := 22050
	x := append(tone(3*rate, rate, 330, 0.4), clickTrack(3, rate, 0.5)...)
	buf := &audio.Buffer{Samples: x, SampleRate: rate, Channels: 1}

	first := Compute(buf, rate, 5*rate)
	second := Compute(buf, rate, 5*rate)
	if first.Vector != second.Vector {
		t.Errorf("not deterministic: %+v vs %+v", first.Vector, second.Vector)
	}
	for i, v := range first.Vector.Slice() {
		if v < 0 || v > 1 {
			t.Errorf("%s = %v out of range", Names[i], v)
		}
	}
}

func TestComputeShortLoopDefaults(t *testing.T) {
	rate := 22050
	buf := &audio.Buffer{Samples: tone(rate, rate, 440, 0.5), SampleRate: rate, Channels: 1}

	res := Compute(buf, 100, rate/2)
	if res.Vector.TempoConsistency != Neutral {
		t.Errorf("tempo on a 0.5 s loop = %v", res.Vector.TempoConsistency)
	}
	found := false
	for _, fb := range res.Fallbacks {
		if fb.Feature == TempoConsistency && fb.Reason == ReasonShortSpan {
			found = true
		}
	}
	if !found {
		t.Errorf("missing tempo fallback in %v", res.Fallbacks)
	}
}
