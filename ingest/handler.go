package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voc/audio-ingest/metrics"
	"github.com/voc/audio-ingest/session"
)

const (
	DefaultMaxFrameSize = 4 << 20
	writeTimeout        = 5 * time.Second
)

// Sessions is the part of the session manager the endpoint drives.
type Sessions interface {
	Create(ctx context.Context, req session.CreateRequest) (*session.Descriptor, error)
	Ingest(id string, frame []byte)
	Remove(id string)
	Stop(id string) bool
	Get(id string) (session.Descriptor, bool)
	List() []session.Descriptor
}

// Handler accepts ingest connections. The first text frame on a connection
// creates its session, binary frames after that are forwarded as audio.
type Handler struct {
	sessions Sessions
	urls     URLs
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	maxFrame int64
	clients  atomic.Uint64
}

func NewHandler(sessions Sessions, urls URLs, maxFrame int64, m *metrics.Metrics) *Handler {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Handler{
		sessions: sessions,
		urls:     urls,
		metrics:  m,
		maxFrame: maxFrame,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer ws.Close()
	ws.SetReadLimit(h.maxFrame)

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	c := &connection{
		Handler: h,
		ws:      ws,
		id:      fmt.Sprintf("client-%d", h.clients.Add(1)),
		done:    make(chan struct{}),
	}
	c.log = log.With().Str("context", "ingest").Str("client", c.id).Str("remote", r.RemoteAddr).Logger()
	c.log.Info().Msg("ingest: connected")
	c.serve(r.Context())
	c.log.Info().Msg("ingest: disconnected")
}

type connection struct {
	*Handler
	ws   *websocket.Conn
	id   string
	log  zerolog.Logger
	done chan struct{}

	writeMutex sync.Mutex
	stream     *session.Descriptor
}

func (c *connection) serve(ctx context.Context) {
	defer close(c.done)
	defer func() {
		if c.stream != nil {
			c.sessions.Remove(c.stream.ID)
		}
	}()

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("ws read")
			}
			return
		}

		switch typ {
		case websocket.TextMessage:
			if !c.control(ctx, data) {
				return
			}
		case websocket.BinaryMessage:
			if c.stream == nil {
				c.log.Debug().Int("size", len(data)).Msg("ingest: frame before session, dropped")
				continue
			}
			c.sessions.Ingest(c.stream.ID, data)
		}
	}
}

// control handles a text frame. It returns false if the connection must be closed.
func (c *connection) control(ctx context.Context, data []byte) bool {
	msg, err := ParseControl(data)
	if err != nil {
		c.metrics.MalformedMessage()
		c.log.Warn().Err(err).Msg("ingest: control message dropped")
		return true
	}

	switch m := msg.(type) {
	case RecordingPreference:
		if c.stream != nil {
			c.log.Warn().Str("stream", c.stream.ID).Msg("ingest: session already started, preference ignored")
			return true
		}
		d, err := c.sessions.Create(ctx, session.CreateRequest{
			ClientID:    c.id,
			Record:      m.ShouldRecord,
			RequestedID: m.StreamID,
		})
		if err != nil {
			c.log.Error().Err(err).Str("requested", m.StreamID).Msg("ingest: create session")
			c.close(websocket.CloseInternalServerErr, "")
			return false
		}
		c.stream = d
		c.log = c.log.With().Str("stream", d.ID).Logger()

		if err := c.write(c.urls.Created(d.ID, d.Record)); err != nil {
			c.log.Error().Err(err).Msg("ws write")
			return false
		}
		go c.watch(d)
	}
	return true
}

// watch closes the connection when the session ends without the client
// asking for it, so the client stops streaming into the void.
func (c *connection) watch(d *session.Descriptor) {
	select {
	case <-c.done:
		return
	case <-d.Done():
	}
	reason := d.Reason()
	if reason == session.ReasonClient {
		return
	}
	c.log.Info().Str("reason", string(reason)).Msg("ingest: session ended, closing connection")
	err := c.write(StreamEnded{Type: TypeStreamEnded, StreamID: d.ID, Reason: string(reason)})
	if err != nil {
		c.log.Debug().Err(err).Msg("ws write")
	}
	code := websocket.CloseNormalClosure
	if reason == session.ReasonShutdown {
		code = websocket.CloseGoingAway
	}
	c.close(code, string(reason))
	// don't wait forever for the client to answer the close
	c.ws.SetReadDeadline(time.Now().Add(writeTimeout))
}

func (c *connection) write(v interface{}) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return errors.Wrap(c.ws.WriteJSON(v), "write json")
}

func (c *connection) close(code int, text string) {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("ws close")
	}
}
