package transcode

import (
	"strings"

	"github.com/minio/pkg/wildcard"
)

// Classifier flags diagnostic lines that mean the transcoder can't go on.
// It is a best-effort substring match, not a protocol.
type Classifier struct {
	patterns []string
}

// NewClassifier builds a classifier from a vocabulary. Entries without a
// * match anywhere in a line, entries with one are used as given.
func NewClassifier(vocabulary []string) *Classifier {
	c := &Classifier{}
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "*") {
			v = "*" + v + "*"
		}
		c.patterns = append(c.patterns, v)
	}
	return c
}

// Fatal reports whether line matches the vocabulary and returns the matching pattern.
func (c *Classifier) Fatal(line string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, p := range c.patterns {
		if wildcard.MatchSimple(p, line) {
			return p, true
		}
	}
	return "", false
}
