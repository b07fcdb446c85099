package engine

import (
	"fmt"
	"math"
	"sync/atomic"
)

// BufferSourceNode plays a region of a Buffer once.
//
// A source is scheduled with StartAt on an absolute context frame. When the
// render thread first processes the source after that frame has already
// passed, it skips the missed frames, so every source started at the same
// frame stays phase-aligned regardless of when each one entered the graph.
// A source ends when its region is exhausted or Stop is called; OnEnded
// callbacks run on the context's event goroutine.
type BufferSourceNode struct {
	*node
	buffer *Buffer

	startAt  atomic.Int64 // -1 until scheduled
	offset   int64        // first buffer frame; written before startAt
	endFrame int64        // one past the last buffer frame; written before startAt
	ended    atomic.Bool
	stopReq  atomic.Bool
	onEnded  atomic.Pointer[func()]

	// render thread
	started bool
	pos     int64
}

// NewBufferSource creates an unscheduled source for buf. The buffer sample
// rate must match the context.
func (c *Context) NewBufferSource(name string, buf *Buffer) (*BufferSourceNode, error) {
	if buf == nil {
		return nil, fmt.Errorf("engine: source %q: nil buffer", name)
	}
	if buf.SampleRate() != c.sampleRate {
		return nil, fmt.Errorf("%w: source %q buffer %g Hz, context %g Hz",
			ErrSampleRate, name, buf.SampleRate(), c.sampleRate)
	}

	s := &BufferSourceNode{node: c.newNode(name, 0, 1), buffer: buf}
	s.startAt.Store(-1)
	s.proc = s
	return s, nil
}

// Buffer returns the source buffer.
func (s *BufferSourceNode) Buffer() *Buffer { return s.buffer }

// OnEnded registers fn to run once when the source ends. Register before
// starting.
func (s *BufferSourceNode) OnEnded(fn func()) {
	if fn == nil {
		s.onEnded.Store(nil)
		return
	}
	s.onEnded.Store(&fn)
}

// Start schedules playback at context time when (seconds), beginning offset
// seconds into the buffer and lasting duration seconds. A non-positive
// duration plays to the end of the buffer.
func (s *BufferSourceNode) Start(when, offset, duration float64) error {
	return s.StartAt(int64(math.Round(when*s.ctx.sampleRate)), offset, duration)
}

// StartAt is Start with the start position given as a context frame.
func (s *BufferSourceNode) StartAt(frame int64, offset, duration float64) error {
	if s.startAt.Load() >= 0 || s.ended.Load() {
		return ErrAlreadyStarted
	}

	sr := s.ctx.sampleRate
	length := int64(s.buffer.Length())

	off := int64(math.Round(max(offset, 0) * sr))
	off = min(off, length)

	end := length
	if duration > 0 && !math.IsInf(duration, 1) {
		end = min(length, off+int64(math.Round(duration*sr)))
	}

	s.offset = off
	s.endFrame = end
	s.startAt.Store(max(frame, 0))
	return nil
}

// Stop ends playback. Stopping an ended or unstarted source only marks it
// ended.
func (s *BufferSourceNode) Stop() {
	s.stopReq.Store(true)
	s.finish()
}

// Ended reports whether the source has ended.
func (s *BufferSourceNode) Ended() bool { return s.ended.Load() }

func (s *BufferSourceNode) finish() {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	if fn := s.onEnded.Load(); fn != nil {
		cb := *fn
		s.ctx.events.post(cb)
	}
}

func (s *BufferSourceNode) process(q *quantum, _ Block, out []Block) {
	o := out[0]
	o.clear()

	if s.ended.Load() || s.stopReq.Load() {
		return
	}

	start := s.startAt.Load()
	if start < 0 || start >= q.frame+RenderQuantum {
		return
	}

	i0 := 0
	if !s.started {
		s.started = true
		if start >= q.frame {
			i0 = int(start - q.frame)
		} else {
			s.pos = q.frame - start
		}
	}

	total := s.endFrame - s.offset
	left := s.buffer.Channel(0)
	right := left
	if s.buffer.NumChannels() > 1 {
		right = s.buffer.Channel(1)
	}

	for i := i0; i < RenderQuantum && s.pos < total; i++ {
		idx := s.offset + s.pos
		o.L[i] = float64(left[idx])
		o.R[i] = float64(right[idx])
		s.pos++
	}

	if s.pos >= total {
		s.finish()
	}
}
