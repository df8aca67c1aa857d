package output

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestResolve(t *testing.T) {
	l := Layout{Root: "/srv/media", RelayTemplate: "rtmp://relay:1935/live/{id}"}

	p := l.Resolve("stream-abc", false)
	assert.Equal(t, p.PlaylistDir, "/srv/media/hls/stream-abc")
	assert.Equal(t, p.Playlist, "/srv/media/hls/stream-abc/audio.m3u8")
	assert.Equal(t, p.Segments, "/srv/media/hls/stream-abc/segment_%05d.ts")
	assert.Equal(t, p.Recording, "")
	assert.Equal(t, p.Relay, "rtmp://relay:1935/live/stream-abc")

	p = l.Resolve("stream-abc", true)
	assert.Equal(t, p.Recording, "/srv/media/recordings/stream-abc.webm")
}

func TestPrepareWithoutRecording(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	assert.NilError(t, l.Init())

	p, err := l.Prepare("stream-abc", false)
	assert.NilError(t, err)
	assert.Assert(t, exists(t, filepath.Join(l.Root, "hls", "stream-abc")))
	assert.Equal(t, p.Recording, "")

	entries, err := os.ReadDir(l.RecordingsRoot())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 0)
}

func TestPrepareClearsStaleDirectory(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	stale := filepath.Join(l.HLSRoot(), "stream-abc", "segment_00007.ts")
	assert.NilError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	touch(t, stale)

	_, err := l.Prepare("stream-abc", false)
	assert.NilError(t, err)
	assert.Assert(t, !exists(t, stale))
}

func TestPrepareRefusesExistingRecording(t *testing.T) {
	l := Layout{Root: t.TempDir(), RecordingExt: ".ogg"}
	assert.NilError(t, l.Init())
	touch(t, filepath.Join(l.RecordingsRoot(), "stream-abc.ogg"))

	_, err := l.Prepare("stream-abc", true)
	assert.ErrorIs(t, err, ErrRecordingExists)
}

func TestPrepareUnwritableRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	touch(t, root)
	l := Layout{Root: root}

	_, err := l.Prepare("stream-abc", false)
	assert.Assert(t, err != nil)
}
