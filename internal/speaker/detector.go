// Package speaker provides pattern-based speaker label extraction from
// transcript text. Detection is a pure function; the consolidation core owns
// no speaker state beyond the session's slot mapping.
package speaker

import (
	"regexp"
	"strings"
)

// Detector extracts a speaker name from transcript text.
type Detector interface {
	// Detect returns the speaker name announced in text, if any.
	Detect(text string) (name string, ok bool)
}

// PatternDetector matches a leading "Name:" or "Name Surname:" announcement.
type PatternDetector struct {
	re *regexp.Regexp
}

// NewPatternDetector builds the default announcement matcher.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{
		re: regexp.MustCompile(`^\s*([A-Z][a-zA-Z'-]+(?:\s+[A-Z][a-zA-Z'-]+)?)\s*:`),
	}
}

// Detect implements Detector.
func (d *PatternDetector) Detect(text string) (string, bool) {
	m := d.re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// Noop never detects a speaker.
type Noop struct{}

// Detect implements Detector.
func (Noop) Detect(string) (string, bool) {
	return "", false
}
