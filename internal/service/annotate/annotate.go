// Package annotate maps resolved words to visualization-ready confidence
// classes. The classification is a pure function of the agree flag and the
// resolved confidence, independent of engine identity.
package annotate

// Class is one of four fixed confidence/agreement classes.
type Class int

const (
	// AgreeHigh: engines agreed and mean confidence >= 0.9.
	AgreeHigh Class = iota
	// AgreeLow: engines agreed and mean confidence >= 0.7.
	AgreeLow
	// DisagreeResolved: disagreement resolved with confidence >= 0.7.
	DisagreeResolved
	// LowConfidence: everything else, including agreement or resolution
	// below 0.7 and single-source words below 0.7.
	LowConfidence
)

// String returns the wire name of the class.
func (c Class) String() string {
	switch c {
	case AgreeHigh:
		return "agree-high"
	case AgreeLow:
		return "agree-low"
	case DisagreeResolved:
		return "disagree-resolved"
	case LowConfidence:
		return "low-confidence"
	default:
		return "low-confidence"
	}
}

// Thresholds for the classification.
const (
	HighConfidence = 0.9
	OKConfidence   = 0.7
)

// Classify maps an (agree, confidence) pair to its class.
func Classify(agree bool, confidence float64) Class {
	switch {
	case agree && confidence >= HighConfidence:
		return AgreeHigh
	case agree && confidence >= OKConfidence:
		return AgreeLow
	case !agree && confidence >= OKConfidence:
		return DisagreeResolved
	default:
		return LowConfidence
	}
}
