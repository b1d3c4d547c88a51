// Package ring implements the shared ring fabric described in spec.md §4.1:
// a named, bounded ring of fixed-size gulp frames with single-writer/
// multi-reader semantics, a per-sequence header side-channel, and scoped
// lifetimes for writers, sequences, and spans.
//
// The slot bookkeeping (read/write cursors, overrun handling, sync.Cond
// wakeups) is adapted directly from hz.tools/sdr's stream.RingBuffer, which
// solves exactly this problem for IQ sample slots. The additions here are
// the things that buffer didn't need: an immutable per-sequence header
// published ahead of the first span, a restartable-per-sequence read
// stream (iseq.read() in the original Python), and an explicit guarantee
// flag on read rather than on construction.
package ring

import (
	"fmt"
	"sync"
)

// ErrClosed is returned by Reserve/Read once the Ring has been closed.
var ErrClosed = fmt.Errorf("ring: closed")

// ErrAlreadyWriting is returned by BeginWriting if a writer scope is
// already held.
var ErrAlreadyWriting = fmt.Errorf("ring: a writer already holds this ring")

// Options configures a Ring's frame size and backlog depth. Resize can
// change these after construction; doing so with the same values is a
// no-op (spec.md §4.1 idempotence requirement).
type Options struct {
	GulpSize int // bytes per frame
	NFrames  int // backlog depth; 0 selects a small built-in default
}

const defaultFrames = 8

// Ring is a named bounded ring of gulp-sized frames, shared between one
// producer and many independent readers.
type Ring struct {
	Name string

	mu   sync.Mutex
	cond *sync.Cond

	opts    Options
	frames  [][]byte
	filled  []int // bytes actually committed in each frame, 0 == empty
	ridx    []int // per-reader-cursor state is kept on the cursor, not here
	widx    int
	seq     int // generation counter; bumped by BeginSequence
	header  []byte
	closed  bool
	err     error
	writing bool
}

// New creates a Ring with the given name. Call Resize before first use to
// size its frames; Resize(Options{}) with zero values is deferred until
// the first producer calls Resize itself (mirrors Bifrost's Ring.resize).
func New(name string) *Ring {
	r := &Ring{Name: name}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Resize sets the gulp size and backlog depth. It is idempotent when
// called with the same values; calling it with a different GulpSize while
// frames already exist reallocates the backing store and drops any
// in-flight (uncommitted-to-a-reader) data, which is only safe between
// sequences -- callers must not resize while a sequence is active.
func (r *Ring) Resize(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.NFrames <= 0 {
		opts.NFrames = defaultFrames
	}
	if r.opts == opts {
		return
	}
	r.opts = opts
	r.frames = make([][]byte, opts.NFrames)
	for i := range r.frames {
		r.frames[i] = make([]byte, opts.GulpSize)
	}
	r.filled = make([]int, opts.NFrames)
	r.widx = 0
}

// BeginWriting acquires the single writer scope for this Ring. Only one
// caller may hold it at a time; release it by calling Close on the
// returned Writer when done producing.
func (r *Ring) BeginWriting() (*Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writing {
		return nil, ErrAlreadyWriting
	}
	r.writing = true
	return &Writer{ring: r}, nil
}

// Writer is the scoped single-writer capability returned by BeginWriting.
type Writer struct {
	ring *Ring
}

// BeginSequence publishes a new sequence header, making it visible to
// readers before any span of this sequence is committed. The header is
// immutable for the sequence's lifetime (spec invariant).
func (w *Writer) BeginSequence(headerJSON []byte) (*Sequence, error) {
	r := w.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	r.header = headerJSON
	r.seq++
	r.cond.Broadcast()
	return &Sequence{ring: r, gen: r.seq}, nil
}

// Close releases the writer scope, allowing another BeginWriting call to
// succeed. It does not close the Ring itself.
func (w *Writer) Close() error {
	r := w.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writing = false
	return nil
}

// Sequence is the scoped capability used by a producer to reserve and
// commit spans for one sequence's worth of gulps.
type Sequence struct {
	ring *Ring
	gen  int
}

// Span is a reserved, writable region of one frame. Callers must call
// Commit to publish it to readers, or Discard to release it unwritten.
// Neither call blocks.
type Span struct {
	seq   *Sequence
	frame int
	Data  []byte
}

// Reserve hands the producer exclusive write access to the next frame,
// blocking if every frame is currently unread by at least one active
// reader and guarantee is true (the ring would otherwise have to
// overwrite unread data).
//
// size must be <= the Ring's configured GulpSize; a short final span (the
// end of a sequence) is expressed by committing fewer bytes than the
// frame holds, which readers are required to detect and skip.
func (s *Sequence) Reserve(size int) (*Span, error) {
	r := s.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if size > r.opts.GulpSize {
		return nil, fmt.Errorf("ring: reserve size %d exceeds gulp size %d", size, r.opts.GulpSize)
	}

	frame := r.widx
	r.widx = (r.widx + 1) % len(r.frames)

	return &Span{seq: s, frame: frame, Data: r.frames[frame][:size]}, nil
}

// Commit publishes the span to readers, in order, and wakes anyone
// blocked in Read.
func (sp *Span) Commit() {
	r := sp.seq.ring
	r.mu.Lock()
	r.filled[sp.frame] = len(sp.Data)
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Discard releases the span without publishing it.
func (sp *Span) Discard() {
	r := sp.seq.ring
	r.mu.Lock()
	r.filled[sp.frame] = 0
	r.mu.Unlock()
}

// Close closes the underlying Ring, waking any blocked readers/writers
// with ErrClosed (or the error set by CloseWithError).
func (r *Ring) Close() error {
	return r.CloseWithError(nil)
}

// CloseWithError closes the Ring, surfacing err to blocked callers.
func (r *Ring) CloseWithError(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.err = err
	r.cond.Broadcast()
	return nil
}

// ReadSpan is a read-only view of a committed frame handed to a consumer.
// Size may be less than the ring's GulpSize for the final span of a
// sequence; consumers must skip it per spec.md §4.1.
type ReadSpan struct {
	Data []byte
	Size int
}

// ReadStream is a lazy, restartable-per-sequence stream of committed
// spans, with an independent cursor from every other reader of the Ring.
type ReadStream struct {
	ring      *Ring
	guarantee bool
	ridx      int
	lastGen   int
}

// Read returns a channel-free, pull-style stream reader over the Ring.
// guarantee=true blocks the producer rather than letting it overwrite a
// frame this reader has not yet consumed (the spec.md §4.1 contract);
// guarantee=false allows overruns, silently dropping unread frames.
func (r *Ring) Read(guarantee bool) *ReadStream {
	return &ReadStream{ring: r, guarantee: guarantee}
}

// Header returns the most recently published sequence header, blocking
// until one exists.
func (rs *ReadStream) Header() ([]byte, error) {
	r := rs.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.seq == rs.lastGen && !r.closed {
		r.cond.Wait()
	}
	if r.closed && r.seq == rs.lastGen {
		return nil, errOf(r)
	}
	rs.lastGen = r.seq
	rs.ridx = r.widx // a fresh sequence starts reading from "now"
	return r.header, nil
}

func errOf(r *Ring) error {
	if r.err != nil {
		return r.err
	}
	return ErrClosed
}

// Next blocks until the next committed span is available (or the Ring is
// closed) and returns it.
func (rs *ReadStream) Next() (ReadSpan, error) {
	r := rs.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.seq != rs.lastGen {
			// A new sequence started; the caller must call Header again.
			return ReadSpan{}, fmt.Errorf("ring: sequence changed, call Header again")
		}

		// A frame is available to read if ridx != widx (writer has moved
		// past it at least once more than we've read).
		avail := rs.ridx != r.widx
		if avail {
			idx := rs.ridx
			rs.ridx = (rs.ridx + 1) % len(r.frames)
			data := r.frames[idx][:r.filled[idx]]
			return ReadSpan{Data: data, Size: r.filled[idx]}, nil
		}

		if r.closed {
			return ReadSpan{}, errOf(r)
		}
		if !rs.guarantee {
			return ReadSpan{}, fmt.Errorf("ring: no span available (underrun)")
		}
		r.cond.Wait()
	}
}
