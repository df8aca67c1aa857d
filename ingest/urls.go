package ingest

import (
	"net/url"
	"strings"

	"github.com/voc/audio-ingest/output"
)

// URLs builds the public locations of a stream's artifacts.
type URLs struct {
	// e.g. http://ingest.example.org:8083
	Base         string
	RecordingExt string
}

func (u URLs) base() string {
	return strings.TrimSuffix(u.Base, "/")
}

func (u URLs) HLS(id string) string {
	return u.base() + "/hls/" + url.PathEscape(id) + "/" + output.PlaylistName
}

func (u URLs) Recording(id string) string {
	layout := output.Layout{RecordingExt: u.RecordingExt}
	return u.base() + "/recordings/" + url.PathEscape(layout.RecordingName(id))
}

func (u URLs) Player(id string) string {
	return u.base() + "/player/" + url.PathEscape(id)
}

func (u URLs) RecordingPlayer(id string) string {
	return u.Player(id) + "?type=recording"
}

// Created builds the response to a successful session creation.
func (u URLs) Created(id string, record bool) StreamCreated {
	msg := StreamCreated{
		Type:      TypeStreamCreated,
		StreamID:  id,
		HLSURL:    u.HLS(id),
		PlayerURL: u.Player(id),
	}
	if record {
		recording := u.Recording(id)
		player := u.RecordingPlayer(id)
		msg.RecordingURL = &recording
		msg.RecordingPlayerURL = &player
	}
	return msg
}
