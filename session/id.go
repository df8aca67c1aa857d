package session

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const idPrefix = "stream-"

var idPattern = regexp.MustCompile(`^stream-[A-Za-z0-9_-]{1,64}$`)

// NewID returns a fresh random stream id.
func NewID() string {
	return idPrefix + uuid.NewString()
}

// ValidID reports whether id may be used as a stream id. Ids end up in
// file names and urls, so the token alphabet is restricted.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// pull sources are network streams only, never local files or devices
var sourceSchemes = map[string]bool{
	"rtmp":  true,
	"rtmps": true,
	"srt":   true,
}

// ValidSource reports whether source may be pulled by a transcoder.
func ValidSource(source string) bool {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	return sourceSchemes[strings.ToLower(u.Scheme)]
}
