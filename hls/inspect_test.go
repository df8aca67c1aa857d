package hls

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

const rolling = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:41
#EXTINF:1.002667,
segment_00041.ts
#EXTINF:0.981333,
segment_00042.ts
`

func TestParse(t *testing.T) {
	status, err := Parse([]byte(rolling))
	assert.NilError(t, err)
	assert.Assert(t, status.Ready)
	assert.Equal(t, status.Segments, 2)
	assert.Equal(t, status.MediaSequence, 41)
	assert.Equal(t, status.TargetDuration, 1)
	assert.Equal(t, status.LastSegment, "segment_00042.ts")
	assert.Assert(t, status.Duration > 1.98 && status.Duration < 1.99)
}

func TestParseEmpty(t *testing.T) {
	status, err := Parse([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:1\n"))
	assert.NilError(t, err)
	assert.Assert(t, !status.Ready)
	assert.Equal(t, status.Segments, 0)
}

func TestParseMaster(t *testing.T) {
	master := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=128000,CODECS="mp4a.40.2"
stream-abc/audio.m3u8
`
	_, err := Parse([]byte(master))
	assert.ErrorContains(t, err, "master playlist")
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.m3u8")

	status, err := Inspect(path)
	assert.NilError(t, err)
	assert.Assert(t, !status.Ready)

	assert.NilError(t, os.WriteFile(path, []byte(rolling), 0o644))
	status, err = Inspect(path)
	assert.NilError(t, err)
	assert.Assert(t, status.Ready)
	assert.Assert(t, !status.Updated.IsZero())
}
