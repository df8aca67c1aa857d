package transcode

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

// gatedSink blocks writes until the gate is opened.
type gatedSink struct {
	mutex  sync.Mutex
	buf    bytes.Buffer
	gate   chan struct{}
	err    error
	closed bool
}

func newGatedSink() *gatedSink {
	return &gatedSink{gate: make(chan struct{})}
}

func (s *gatedSink) Write(p []byte) (int, error) {
	<-s.gate
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.buf.Write(p)
}

func (s *gatedSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func (s *gatedSink) state() ([]byte, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]byte(nil), s.buf.Bytes()...), s.closed
}

func TestWriterOrder(t *testing.T) {
	sink := newGatedSink()
	close(sink.gate)
	w := NewWriter(sink, 0, zerolog.Nop(), nil)

	var want []byte
	for i := 0; i < 100; i++ {
		frame := []byte{byte(i), byte(i), byte(i)}
		want = append(want, frame...)
		assert.Assert(t, w.Write(frame))
	}
	w.Close()
	<-w.Done()

	got, closed := sink.state()
	assert.DeepEqual(t, got, want)
	assert.Assert(t, closed)
	assert.Equal(t, w.Written(), int64(len(want)))
}

func TestWriterHighWaterMark(t *testing.T) {
	sink := newGatedSink()
	w := NewWriter(sink, 8, zerolog.Nop(), nil)

	// frames in flight count as buffered
	assert.Assert(t, w.Write(make([]byte, 4)))
	assert.Assert(t, w.Write(make([]byte, 4)))
	assert.Assert(t, !w.Write(make([]byte, 4)))
	assert.Assert(t, !w.Write(make([]byte, 4)))
	assert.Equal(t, w.Buffered(), 16)

	// saturated frames are still delivered
	close(sink.gate)
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if w.Buffered() == 0 {
			return poll.Success()
		}
		return poll.Continue("buffered %d", w.Buffered())
	}, poll.WithTimeout(time.Second))
	got, _ := sink.state()
	assert.Equal(t, len(got), 16)
	assert.Assert(t, w.Write(make([]byte, 4)))

	w.Close()
	<-w.Done()
}

func TestWriterFailure(t *testing.T) {
	sink := newGatedSink()
	sink.err = errors.New("broken pipe")
	close(sink.gate)

	failed := make(chan error, 2)
	w := NewWriter(sink, 0, zerolog.Nop(), func(err error) { failed <- err })
	w.Write([]byte("frame"))

	select {
	case err := <-failed:
		assert.ErrorContains(t, err, "broken pipe")
	case <-time.After(time.Second):
		t.Fatal("no write failure reported")
	}
	<-w.Done()

	// later frames are dropped silently
	assert.Assert(t, w.Write([]byte("more")))
	assert.Equal(t, len(failed), 0)
	w.Close()
}

func TestWriterCloseFlushes(t *testing.T) {
	sink := newGatedSink()
	w := NewWriter(sink, 0, zerolog.Nop(), nil)
	w.Write([]byte("a"))
	w.Write([]byte("b"))
	w.Close()
	assert.Assert(t, w.Write([]byte("c")))

	close(sink.gate)
	<-w.Done()
	got, closed := sink.state()
	assert.Equal(t, string(got), "ab")
	assert.Assert(t, closed)
}
