package transcode

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"Connection refused", "Failed to connect", "Invalid data found when processing input", " ", "Error opening output*"})

	tests := []struct {
		line    string
		fatal   bool
		pattern string
	}{
		{"[tcp @ 0x55d] Connection to tcp://relay:1935 failed: Connection refused", true, "*Connection refused*"},
		{"pipe:0: Invalid data found when processing input", true, "*Invalid data found when processing input*"},
		{"Error opening output /m/hls/x/audio.m3u8: Permission denied", true, "Error opening output*"},
		{"[hls @ 0x55d] Opening 'segment_00001.ts' for writing", false, ""},
		{"connection refused", false, ""},
		{"", false, ""},
	}
	for _, tc := range tests {
		pattern, fatal := c.Fatal(tc.line)
		assert.Equal(t, fatal, tc.fatal, tc.line)
		assert.Equal(t, pattern, tc.pattern, tc.line)
	}
}

func TestNilClassifier(t *testing.T) {
	var c *Classifier
	_, fatal := c.Fatal("Connection refused")
	assert.Assert(t, !fatal)
}
