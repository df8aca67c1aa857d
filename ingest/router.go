package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voc/audio-ingest/hls"
	"github.com/voc/audio-ingest/metrics"
	"github.com/voc/audio-ingest/output"
	"github.com/voc/audio-ingest/session"
)

type RouterConfig struct {
	Sessions     Sessions
	Layout       output.Layout
	URLs         URLs
	MaxFrameSize int64
	Metrics      *metrics.Metrics
	// sessions pulling an rtmp/srt url, started over http
	AllowPull bool
}

func NewRouter(conf RouterConfig) *mux.Router {
	ingest := NewHandler(conf.Sessions, conf.URLs, conf.MaxFrameSize, conf.Metrics)

	router := mux.NewRouter()
	router.Use(logRequests)
	router.Handle("/ws", ingest)
	router.HandleFunc("/api/generate-stream-id", generateStreamID(conf.URLs)).Methods("GET")
	router.HandleFunc("/api/streams", listStreams(conf.Sessions, conf.URLs)).Methods("GET")
	router.HandleFunc("/api/streams/{id}", getStream(conf.Sessions, conf.URLs)).Methods("GET")
	router.HandleFunc("/api/streams/{id}", stopStream(conf.Sessions)).Methods("DELETE")
	if conf.AllowPull {
		pull := startPull(conf.Sessions, conf.URLs)
		router.HandleFunc("/api/pull-streams", pull).Methods("POST")
		router.HandleFunc("/start-stream", pull).Methods("POST")
	}
	router.HandleFunc("/player", player(conf.URLs)).Methods("GET")
	router.HandleFunc("/player/{id}", player(conf.URLs)).Methods("GET")
	router.PathPrefix("/hls/").Handler(http.StripPrefix("/hls/", playlistFiles(conf.Layout.HLSRoot()))).Methods("GET", "HEAD")
	router.HandleFunc("/recordings/{name}", recordingFile(conf.Layout)).Methods("GET", "HEAD")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok\n")
	})
	if conf.Metrics != nil {
		router.Handle("/metrics", conf.Metrics.Handler())
	}
	// browser clients connecting to the bare host
	router.Handle("/", ingest).MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(r)
	})
	return router
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("http")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("json encode")
	}
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func generateStreamID(urls URLs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := session.NewID()
		w.Header().Set("Access-Control-Allow-Origin", "*")
		writeJSON(w, http.StatusOK, map[string]string{
			"streamId":  id,
			"playerUrl": urls.Player(id),
		})
	}
}

type streamStatus struct {
	session.Descriptor
	HLSURL       string     `json:"hlsUrl"`
	RecordingURL *string    `json:"recordingUrl"`
	PlayerURL    string     `json:"playerUrl"`
	Playlist     hls.Status `json:"playlist"`
}

func newStreamStatus(d session.Descriptor, urls URLs) streamStatus {
	created := urls.Created(d.ID, d.Record)
	s := streamStatus{
		Descriptor:   d,
		HLSURL:       created.HLSURL,
		RecordingURL: created.RecordingURL,
		PlayerURL:    created.PlayerURL,
	}
	status, err := hls.Inspect(d.Outputs.Playlist)
	if err != nil {
		log.Warn().Err(err).Str("stream", d.ID).Msg("inspect playlist")
	}
	s.Playlist = status
	return s
}

func listStreams(sessions Sessions, urls URLs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := sessions.List()
		res := make([]streamStatus, 0, len(list))
		for _, d := range list {
			res = append(res, newStreamStatus(d, urls))
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func getStream(sessions Sessions, urls URLs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		d, ok := sessions.Get(id)
		if !ok {
			fail(w, http.StatusNotFound, "unknown stream")
			return
		}
		writeJSON(w, http.StatusOK, newStreamStatus(d, urls))
	}
}

// playlistFiles serves playlists and segments below root.
func playlistFiles(root string) http.Handler {
	files := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch path.Ext(r.URL.Path) {
		case ".m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			w.Header().Set("Cache-Control", "no-cache")
		case ".ts":
			w.Header().Set("Content-Type", "video/mp2t")
		}
		files.ServeHTTP(w, r)
	})
}

// recordingFile serves archival files. The type is set explicitly since
// the extension alone does not say audio.
func recordingFile(layout output.Layout) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		ext := filepath.Ext(name)
		id := strings.TrimSuffix(name, ext)
		if !session.ValidID(id) || name != layout.RecordingName(id) {
			http.NotFound(w, r)
			return
		}

		f, err := os.Open(filepath.Join(layout.RecordingsRoot(), name))
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("recording", name).Msg("open recording")
			fail(w, http.StatusInternalServerError, "recording unavailable")
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			fail(w, http.StatusInternalServerError, "recording unavailable")
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", recordingType(ext))
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

func recordingType(ext string) string {
	switch ext {
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".mka":
		return "audio/x-matroska"
	default:
		return "audio/webm"
	}
}
