package ring

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingInOrderDelivery(t *testing.T) {
	r := New("test")
	r.Resize(Options{GulpSize: 8, NFrames: 4})

	w, err := r.BeginWriting()
	require.NoError(t, err)

	rs := r.Read(true)

	var wg sync.WaitGroup
	wg.Add(1)
	var got []uint64

	go func() {
		defer wg.Done()
		_, err := rs.Header()
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			span, err := rs.Next()
			require.NoError(t, err)
			got = append(got, binary.LittleEndian.Uint64(span.Data))
		}
	}()

	seq, err := w.BeginSequence([]byte(`{"time_tag":0}`))
	require.NoError(t, err)

	for i := uint64(0); i < 5; i++ {
		span, err := seq.Reserve(8)
		require.NoError(t, err)
		binary.LittleEndian.PutUint64(span.Data, i)
		span.Commit()
	}

	wg.Wait()
	require.Equal(t, []uint64{0, 1, 2, 3, 4}, got)
}

func TestRingShortFinalSpan(t *testing.T) {
	r := New("test")
	r.Resize(Options{GulpSize: 8, NFrames: 2})
	w, err := r.BeginWriting()
	require.NoError(t, err)
	rs := r.Read(true)

	seq, err := w.BeginSequence([]byte(`{}`))
	require.NoError(t, err)

	go func() {
		span, _ := seq.Reserve(8)
		span.Commit()
		span2, _ := seq.Reserve(3)
		span2.Commit()
	}()

	_, err = rs.Header()
	require.NoError(t, err)

	full, err := rs.Next()
	require.NoError(t, err)
	require.Equal(t, 8, full.Size)

	short, err := rs.Next()
	require.NoError(t, err)
	require.Equal(t, 3, short.Size)
	require.Less(t, short.Size, full.Size)
}

func TestRingResizeIdempotent(t *testing.T) {
	r := New("test")
	opts := Options{GulpSize: 16, NFrames: 4}
	r.Resize(opts)
	first := r.frames
	r.Resize(opts)
	require.Same(t, &first[0], &r.frames[0])
}

func TestBeginWritingExclusive(t *testing.T) {
	r := New("test")
	r.Resize(Options{GulpSize: 8, NFrames: 2})
	w, err := r.BeginWriting()
	require.NoError(t, err)
	_, err = r.BeginWriting()
	require.ErrorIs(t, err, ErrAlreadyWriting)
	require.NoError(t, w.Close())
	_, err = r.BeginWriting()
	require.NoError(t, err)
}
