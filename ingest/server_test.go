package ingest

import (
	"context"
	"io"
	"net/http"
	"testing"

	"gotest.tools/v3/assert"
)

func TestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello")
	})
	s, err := NewServer(ctx, ServerConfig{Addr: "127.0.0.1:0", Handler: handler})
	assert.NilError(t, err)

	res, err := http.Get("http://" + s.Addr().String() + "/")
	assert.NilError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, string(body), "hello")

	// the address is taken
	_, err = NewServer(ctx, ServerConfig{Addr: s.Addr().String(), Handler: handler})
	assert.ErrorContains(t, err, "listen")

	cancel()
	s.Wait()
	assert.Equal(t, len(s.Errors()), 0)
}
