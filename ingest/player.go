package ingest

import (
	"net/http"

	"github.com/flosch/pongo2/v6"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/voc/audio-ingest/session"
)

var playerTemplate = pongo2.Must(pongo2.FromString(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <title>{{ title }}</title>
    <script src="https://cdn.jsdelivr.net/npm/hls.js@1"></script>
    <style>
      body { font-family: sans-serif; display: flex; flex-direction: column; align-items: center; padding: 2em; }
    </style>
  </head>
  <body>
    <h1>{{ title }}</h1>
    <audio id="audio" controls data-src="{{ src }}"{% if live %} data-live{% endif %}></audio>
    <script>
      var audio = document.getElementById("audio");
      var src = audio.dataset.src;
      if ("live" in audio.dataset && window.Hls && Hls.isSupported()) {
        var hls = new Hls();
        hls.loadSource(src);
        hls.attachMedia(audio);
      } else {
        audio.src = src;
      }
    </script>
  </body>
</html>
`))

// player serves a minimal listening page for /player/{id} and the
// /player?streamKey= form. type=recording plays the archival file.
func player(urls URLs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if id == "" {
			id = r.URL.Query().Get("streamKey")
		}
		if id == "" {
			http.Error(w, "stream key required", http.StatusBadRequest)
			return
		}
		if !session.ValidID(id) {
			http.NotFound(w, r)
			return
		}

		ctx := pongo2.Context{"title": "Listening to " + id, "src": urls.HLS(id), "live": true}
		if r.URL.Query().Get("type") == "recording" {
			ctx["title"] = "Recording of " + id
			ctx["src"] = urls.Recording(id)
			ctx["live"] = false
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := playerTemplate.ExecuteWriter(ctx, w); err != nil {
			log.Error().Err(err).Str("stream", id).Msg("render player")
		}
	}
}
