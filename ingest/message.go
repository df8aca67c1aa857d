package ingest

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	TypeRecordingPreference = "recording-preference"
	TypeStreamCreated       = "stream-created"
	TypeStreamEnded         = "stream-ended"
)

// ErrMalformedMessage is returned for control messages that don't parse
// or have an unknown type.
var ErrMalformedMessage = errors.New("malformed control message")

// Control is an inbound control message. RecordingPreference is the only
// variant.
type Control interface {
	control()
}

// RecordingPreference starts a session on the connection.
type RecordingPreference struct {
	ShouldRecord bool
	// optional, empty when the server should pick one
	StreamID string
}

func (RecordingPreference) control() {}

// ParseControl decodes and validates an inbound text frame.
func ParseControl(data []byte) (Control, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}

	switch head.Type {
	case TypeRecordingPreference:
		var msg struct {
			Type         string  `json:"type"`
			ShouldRecord *bool   `json:"shouldRecord"`
			StreamID     *string `json:"streamId"`
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&msg); err != nil {
			return nil, errors.Wrap(ErrMalformedMessage, err.Error())
		}
		if msg.ShouldRecord == nil {
			return nil, errors.Wrap(ErrMalformedMessage, "shouldRecord missing")
		}
		pref := RecordingPreference{ShouldRecord: *msg.ShouldRecord}
		if msg.StreamID != nil {
			pref.StreamID = *msg.StreamID
		}
		return pref, nil
	case "":
		return nil, errors.Wrap(ErrMalformedMessage, "type missing")
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "unknown type %q", head.Type)
	}
}

// StreamCreated answers a RecordingPreference.
type StreamCreated struct {
	Type               string  `json:"type"`
	StreamID           string  `json:"streamId"`
	HLSURL             string  `json:"hlsUrl"`
	RecordingURL       *string `json:"recordingUrl"`
	PlayerURL          string  `json:"playerUrl"`
	RecordingPlayerURL *string `json:"recordingPlayerUrl"`
}

// StreamEnded is sent before the server closes a connection whose session
// ended on its own.
type StreamEnded struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId"`
	Reason   string `json:"reason"`
}
