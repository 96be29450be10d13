package features

// Feature names, as used in serialized vectors and fallback reports.
const (
	AmplitudeSmoothness = "amplitude_smoothness"
	SpectralSimilarity  = "spectral_similarity"
	TempoConsistency    = "tempo_consistency"
	LoudnessMatching    = "loudness_matching"
)

// Names lists the features in vector order.
var Names = []string{AmplitudeSmoothness, SpectralSimilarity, TempoConsistency, LoudnessMatching}

// Vector is the normalized boundary descriptor of one loop candidate.
// Every component is in [0, 1].
type Vector struct {
	AmplitudeSmoothness float64 `json:"amplitude_smoothness" msgpack:"amplitude_smoothness"`
	SpectralSimilarity  float64 `json:"spectral_similarity" msgpack:"spectral_similarity"`
	TempoConsistency    float64 `json:"tempo_consistency" msgpack:"tempo_consistency"`
	LoudnessMatching    float64 `json:"loudness_matching" msgpack:"loudness_matching"`
}

// NeutralVector has every feature at Neutral.
func NeutralVector() Vector {
	return Vector{Neutral, Neutral, Neutral, Neutral}
}

// Slice returns the components in Names order.
func (v Vector) Slice() []float64 {
	return []float64{v.AmplitudeSmoothness, v.SpectralSimilarity, v.TempoConsistency, v.LoudnessMatching}
}

// Fallback records a feature that could not be measured and was set to
// Neutral.
type Fallback struct {
	Feature string
	Reason  string
}

// Result is the outcome of one extraction.
type Result struct {
	Vector    Vector
	Fallbacks []Fallback
	// Cached is true when the vector came from the cache and no audio was
	// analyzed.
	Cached bool
}
