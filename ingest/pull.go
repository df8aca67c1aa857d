package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/voc/audio-ingest/session"
)

const maxPullRequestSize = 64 * 1024

// PullRequest starts a session whose transcoder pulls an rtmp or srt stream
// instead of receiving frames over a websocket.
type PullRequest struct {
	URL string `json:"url"`
	// older clients send the source as rtmpUrl
	RTMPURL      string `json:"rtmpUrl"`
	ShouldRecord bool   `json:"shouldRecord"`
	StreamID     string `json:"streamId"`
}

type PullStarted struct {
	Success bool `json:"success"`
	StreamCreated
	// player page of the stream
	StreamURL string `json:"streamUrl"`
}

func (p PullRequest) source() string {
	if p.URL != "" {
		return p.URL
	}
	return p.RTMPURL
}

func startPull(sessions Sessions, urls URLs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PullRequest
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPullRequestSize)).Decode(&req)
		if err != nil {
			pullFailed(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.source() == "" {
			pullFailed(w, http.StatusBadRequest, "source url is required")
			return
		}

		d, err := sessions.Create(r.Context(), session.CreateRequest{
			ClientID:    "pull:" + r.RemoteAddr,
			Record:      req.ShouldRecord,
			RequestedID: req.StreamID,
			Source:      req.source(),
		})
		if err != nil {
			log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("pull: create session")
			status, msg := createStatus(err)
			pullFailed(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, PullStarted{
			Success:       true,
			StreamCreated: urls.Created(d.ID, d.Record),
			StreamURL:     urls.Player(d.ID),
		})
	}
}

func createStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidSource):
		return http.StatusBadRequest, "unsupported source url"
	case errors.Is(err, session.ErrInvalidID):
		return http.StatusBadRequest, "invalid stream id"
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict, "stream already exists"
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable, "shutting down"
	default:
		return http.StatusInternalServerError, "stream could not be started"
	}
}

func pullFailed(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": msg})
}

func stopStream(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !sessions.Stop(id) {
			fail(w, http.StatusNotFound, "unknown stream")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
