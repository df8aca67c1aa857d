package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	PlaylistName   = "audio.m3u8"
	SegmentPattern = "segment_%05d.ts"
	hlsDir         = "hls"
	recordingsDir  = "recordings"
)

var ErrRecordingExists = errors.New("recording already exists")

// Layout resolves where a session writes its artifacts.
//
//	<root>/hls/<id>/audio.m3u8
//	<root>/hls/<id>/segment_00000.ts
//	<root>/recordings/<id>.<ext>
type Layout struct {
	Root string
	// container extension of the archival file, e.g. "webm"
	RecordingExt string
	// relay url template, {id} is replaced by the stream id
	RelayTemplate string
}

// Paths holds the resolved outputs of one session. Recording and Relay are
// empty when the output is not produced.
type Paths struct {
	PlaylistDir string
	Playlist    string
	Segments    string
	Recording   string
	Relay       string
}

// Init creates the shared top-level directories.
func (l Layout) Init() error {
	for _, dir := range []string{l.HLSRoot(), l.RecordingsRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

func (l Layout) HLSRoot() string {
	return filepath.Join(l.Root, hlsDir)
}

func (l Layout) RecordingsRoot() string {
	return filepath.Join(l.Root, recordingsDir)
}

// Resolve computes the paths for id without touching the file system.
func (l Layout) Resolve(id string, record bool) Paths {
	dir := filepath.Join(l.HLSRoot(), id)
	p := Paths{
		PlaylistDir: dir,
		Playlist:    filepath.Join(dir, PlaylistName),
		Segments:    filepath.Join(dir, SegmentPattern),
	}
	if record {
		p.Recording = filepath.Join(l.RecordingsRoot(), id+"."+l.recordingExt())
	}
	if l.RelayTemplate != "" {
		p.Relay = strings.ReplaceAll(l.RelayTemplate, "{id}", id)
	}
	return p
}

// Prepare creates the session's playlist directory. Leftovers of a finished
// session with the same id are cleared, an existing recording is never overwritten.
func (l Layout) Prepare(id string, record bool) (Paths, error) {
	p := l.Resolve(id, record)
	if p.Recording != "" {
		_, err := os.Stat(p.Recording)
		if err == nil {
			return p, fmt.Errorf("%s: %w", p.Recording, ErrRecordingExists)
		}
		if !os.IsNotExist(err) {
			return p, err
		}
		if err := os.MkdirAll(filepath.Dir(p.Recording), 0o755); err != nil {
			return p, err
		}
	}
	if err := os.RemoveAll(p.PlaylistDir); err != nil {
		return p, fmt.Errorf("clear %s: %w", p.PlaylistDir, err)
	}
	if err := os.MkdirAll(p.PlaylistDir, 0o755); err != nil {
		return p, fmt.Errorf("mkdir %s: %w", p.PlaylistDir, err)
	}
	return p, nil
}

// RecordingName returns the file name of id's archival output.
func (l Layout) RecordingName(id string) string {
	return id + "." + l.recordingExt()
}

func (l Layout) recordingExt() string {
	if l.RecordingExt == "" {
		return "webm"
	}
	return strings.TrimPrefix(l.RecordingExt, ".")
}
