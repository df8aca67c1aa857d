package hls

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/quangngotan95/go-m3u8/m3u8"
)

// Status summarizes a rolling media playlist as written by the transcoder.
type Status struct {
	Ready          bool      `json:"ready"`
	Segments       int       `json:"segments"`
	MediaSequence  int       `json:"mediaSequence"`
	TargetDuration int       `json:"targetDuration"`
	Duration       float64   `json:"duration"`
	LastSegment    string    `json:"lastSegment,omitempty"`
	Updated        time.Time `json:"updated"`
}

// Inspect reads the playlist at path. A playlist that was not written yet
// is reported as not ready, not as an error.
func Inspect(path string) (Status, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	status, err := Parse(buf)
	if err != nil {
		return Status{}, errors.Wrapf(err, "parse %s", path)
	}
	status.Updated = info.ModTime()
	return status, nil
}

// Parse summarizes playlist data.
func Parse(data []byte) (Status, error) {
	playlist, err := m3u8.Read(bytes.NewReader(data))
	if err != nil {
		return Status{}, err
	}
	if playlist.IsMaster() {
		return Status{}, errors.New("master playlist")
	}

	status := Status{
		MediaSequence:  playlist.Sequence,
		TargetDuration: playlist.Target,
	}
	for _, item := range playlist.Items {
		segment, ok := item.(*m3u8.SegmentItem)
		if !ok {
			continue
		}
		status.Segments++
		status.Duration += segment.Duration
		status.LastSegment = segment.Segment
	}
	status.Ready = status.Segments > 0
	return status, nil
}
