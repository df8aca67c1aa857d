package transcode

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Writer feeds frames into the transcoder input in arrival order.
// Frames are queued without bound, Write only reports saturation once the
// queued amount passes the high-water mark. Nobody pauses the producer.
type Writer struct {
	dst           io.WriteCloser
	highWaterMark int
	log           zerolog.Logger
	onError       func(error)

	mutex   sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	queued  int
	written int64
	closed  bool
	failed  bool
	drain   bool // drain notice armed

	done chan struct{}
}

func NewWriter(dst io.WriteCloser, highWaterMark int, logger zerolog.Logger, onError func(error)) *Writer {
	w := &Writer{
		dst:           dst,
		highWaterMark: highWaterMark,
		log:           logger,
		onError:       onError,
		done:          make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mutex)
	go w.run()
	return w
}

// Write queues a copy of frame. It returns false when the queue is above
// the high-water mark, the frame is queued anyway.
func (w *Writer) Write(frame []byte) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed || w.failed {
		return true
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	w.queue = append(w.queue, buf)
	w.queued += len(buf)
	w.cond.Signal()

	if w.highWaterMark > 0 && w.queued > w.highWaterMark {
		if !w.drain {
			w.drain = true
			w.log.Warn().Int("buffered", w.queued).Msg("writer: input saturated")
		}
		return false
	}
	return true
}

// Buffered returns the number of bytes not yet handed to the transcoder.
func (w *Writer) Buffered() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.queued
}

// Written returns the number of bytes handed to the transcoder.
func (w *Writer) Written() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.written
}

// Close stops accepting frames. Queued frames are still flushed, then the
// input is closed so the transcoder can finalize its outputs.
func (w *Writer) Close() {
	w.mutex.Lock()
	w.closed = true
	w.cond.Signal()
	w.mutex.Unlock()
}

// Done is closed once the input was closed.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		w.mutex.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mutex.Unlock()
			break
		}
		frame := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mutex.Unlock()

		_, err := w.dst.Write(frame)

		w.mutex.Lock()
		w.queued -= len(frame)
		if err != nil {
			w.failed = true
			w.queue = nil
			w.queued = 0
			closed := w.closed
			w.mutex.Unlock()
			if !closed {
				w.log.Error().Err(err).Msg("writer: write failed")
				if w.onError != nil {
					w.onError(err)
				}
			} else {
				w.log.Debug().Err(err).Msg("writer: write after close")
			}
			break
		}
		w.written += int64(len(frame))
		if w.drain && w.queued == 0 {
			w.drain = false
			w.log.Info().Msg("writer: input drained")
		}
		w.mutex.Unlock()
	}

	if err := w.dst.Close(); err != nil {
		w.log.Debug().Err(err).Msg("writer: close")
	}
}
