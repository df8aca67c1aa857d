package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"
)

func (e *env) post(t *testing.T, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	res, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	assert.NilError(t, err)
	defer res.Body.Close()
	var msg map[string]interface{}
	assert.NilError(t, json.NewDecoder(res.Body).Decode(&msg))
	return res, msg
}

func (e *env) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, e.server.URL+path, nil)
	assert.NilError(t, err)
	res, err := http.DefaultClient.Do(req)
	assert.NilError(t, err)
	res.Body.Close()
	return res
}

func TestStartPull(t *testing.T) {
	t.Parallel()
	e := setup(t)

	res, msg := e.post(t, "/api/pull-streams", `{"url":"rtmp://origin.example/live/key","streamId":"stream-pull","shouldRecord":true}`)
	assert.Equal(t, res.StatusCode, http.StatusOK)
	assert.Equal(t, msg["success"], true)
	assert.Equal(t, msg["streamId"], "stream-pull")
	assert.Equal(t, msg["hlsUrl"], "http://media.example/hls/stream-pull/audio.m3u8")
	assert.Equal(t, msg["recordingUrl"], "http://media.example/recordings/stream-pull.webm")
	assert.Equal(t, msg["streamUrl"], "http://media.example/player/stream-pull")

	p := e.launcher.Last()
	args := strings.Join(p.Args, " ")
	assert.Assert(t, cmp.Contains(args, "-nostdin -i rtmp://origin.example/live/key"))
	assert.Assert(t, p.StdinClosed())

	d, ok := e.manager.Get("stream-pull")
	assert.Assert(t, ok)
	assert.Assert(t, d.Pull)

	// the source url never shows up in the status api
	status := e.get(t, "/api/streams/stream-pull")
	body, err := io.ReadAll(status.Body)
	assert.NilError(t, err)
	assert.Assert(t, !strings.Contains(string(body), "origin.example"))
}

func TestStartPullCompat(t *testing.T) {
	t.Parallel()
	e := setup(t)

	res, msg := e.post(t, "/start-stream", `{"rtmpUrl":"rtmp://origin.example/live/key"}`)
	assert.Equal(t, res.StatusCode, http.StatusOK)
	assert.Equal(t, msg["success"], true)
	id := msg["streamId"].(string)
	assert.Equal(t, msg["streamUrl"], "http://media.example/player/"+id)
	assert.Equal(t, msg["recordingUrl"], nil)
}

func TestStartPullRejected(t *testing.T) {
	t.Parallel()
	e := setup(t)

	for _, tc := range []struct {
		body   string
		status int
	}{
		{`not json`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`{"url":"file:///etc/passwd"}`, http.StatusBadRequest},
		{`{"url":"rtmp://origin.example/live/key","streamId":"../escape"}`, http.StatusBadRequest},
	} {
		res, msg := e.post(t, "/api/pull-streams", tc.body)
		assert.Equal(t, res.StatusCode, tc.status, tc.body)
		assert.Equal(t, msg["success"], false, tc.body)
	}
	assert.Equal(t, len(e.launcher.Processes()), 0)

	res, _ := e.post(t, "/api/pull-streams", `{"url":"rtmp://origin.example/live/key","streamId":"stream-pull"}`)
	assert.Equal(t, res.StatusCode, http.StatusOK)
	res, msg := e.post(t, "/api/pull-streams", `{"url":"rtmp://origin.example/live/key","streamId":"stream-pull"}`)
	assert.Equal(t, res.StatusCode, http.StatusConflict)
	assert.Equal(t, msg["message"], "stream already exists")
}

func TestStopStream(t *testing.T) {
	t.Parallel()
	e := setup(t)
	ws := e.dial(t, "/ws")
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"recording-preference","shouldRecord":false,"streamId":"stream-abc"}`))
	readJSON(t, ws)

	res := e.delete(t, "/api/streams/stream-abc")
	assert.Equal(t, res.StatusCode, http.StatusNoContent)

	msg := readJSON(t, ws)
	assert.Equal(t, msg["type"], "stream-ended")
	assert.Equal(t, msg["reason"], "stopped")
	assert.Equal(t, closeCode(t, ws), websocket.CloseNormalClosure)
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if _, ok := e.manager.Get("stream-abc"); ok {
			return poll.Continue("session still registered")
		}
		return poll.Success()
	}, poll.WithTimeout(2*time.Second))

	res = e.delete(t, "/api/streams/stream-abc")
	assert.Equal(t, res.StatusCode, http.StatusNotFound)
}

func TestPlayer(t *testing.T) {
	t.Parallel()
	e := setup(t)

	for _, path := range []string{"/player/stream-abc", "/player?streamKey=stream-abc"} {
		res := e.get(t, path)
		assert.Equal(t, res.StatusCode, http.StatusOK, path)
		assert.Equal(t, res.Header.Get("Content-Type"), "text/html; charset=utf-8")
		body, err := io.ReadAll(res.Body)
		assert.NilError(t, err)
		assert.Assert(t, cmp.Contains(string(body), `data-src="http://media.example/hls/stream-abc/audio.m3u8" data-live`), path)
	}

	res := e.get(t, "/player/stream-abc?type=recording")
	body, err := io.ReadAll(res.Body)
	assert.NilError(t, err)
	assert.Assert(t, cmp.Contains(string(body), `data-src="http://media.example/recordings/stream-abc.webm">`))
	assert.Assert(t, cmp.Contains(string(body), "Recording of stream-abc"))

	assert.Equal(t, e.get(t, "/player").StatusCode, http.StatusBadRequest)
	assert.Equal(t, e.get(t, "/player?streamKey=bad%20key").StatusCode, http.StatusNotFound)
}
