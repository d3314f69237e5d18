package transcoder

// QualityProfile trades output size against processing time. Higher CRF
// means stronger compression and smaller output.
type QualityProfile struct {
	Name   string
	CRF    int
	Preset string
}

var (
	// ProfileFast favors wall-clock time over output size.
	ProfileFast = QualityProfile{Name: "fast", CRF: 32, Preset: "veryfast"}
	// ProfileBalanced is the default for recorded and oversized assets.
	ProfileBalanced = QualityProfile{Name: "balanced", CRF: 28, Preset: "medium"}
	// ProfileQuality favors fidelity and accepts slow encodes.
	ProfileQuality = QualityProfile{Name: "quality", CRF: 23, Preset: "slow"}
)
