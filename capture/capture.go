// Package capture implements the UDP capture producer described in
// spec.md §4.2. The "cor" UDP framing itself -- parsing a 9000-byte MTU
// packet into a header plus payload -- is the one explicitly out-of-scope
// external collaborator named in spec.md §1, so it is modeled here as the
// PacketSource interface; UDPPacketSource is the default, working
// implementation built directly on net.ListenUDP.
package capture

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/ring"
)

// CorPacket is one decoded "cor" framing packet: a correlator header plus
// its visibility payload. Producing these from the wire is out of scope
// (spec.md §1); PacketSource is the seam a real framing library plugs
// into.
type CorPacket struct {
	Seq0    int64
	TimeTag int64
	Chan0   int
	NChan   int
	NAvg    int64
	NSrc    int // baseline count
	Payload []byte
}

// PacketSource receives one "cor" packet at a time. ReadPacket returns a
// non-nil error once the capture device fails or is closed; there is no
// distinguished end-of-stream error, and Producer.Run stops on any error.
type PacketSource interface {
	ReadPacket() (CorPacket, error)
	Close() error
}

// RxStatsSource reports cumulative good/missing byte counters for the
// underlying capture device, sampled once per commit to derive fill
// level (spec.md §3 "Fill-level sample"). Out of scope per spec.md §1;
// FileRxStatsSource is the default implementation.
type RxStatsSource interface {
	// Sample returns cumulative (goodBytes, missingBytes) since the
	// capture device started.
	Sample() (good, missing int64, err error)
}

// FillQueue is the bounded, drop-newest-on-full fill-level channel of
// spec.md §3, capacity fixed at 1000 samples.
type FillQueue struct {
	mu   sync.Mutex
	buf  []float64
	head int
}

// NewFillQueue creates an empty FillQueue with the spec's fixed capacity.
func NewFillQueue() *FillQueue {
	return &FillQueue{buf: make([]float64, 0, 1000)}
}

// Push appends a fill-level sample, dropping it silently if the queue is
// already at capacity (drop-newest semantics).
func (q *FillQueue) Push(v float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= 1000 {
		return
	}
	q.buf = append(q.buf, v)
}

// Pop removes and returns the oldest fill-level sample, or ok=false if
// the queue is empty.
func (q *FillQueue) Pop() (v float64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return 0, false
	}
	v = q.buf[0]
	q.buf = q.buf[1:]
	return v, true
}

// Len reports the number of buffered fill-level samples.
func (q *FillQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Config configures a Producer.
type Config struct {
	NTimeGulp int // integrations per gulp
	NBl       int // baseline count, used to derive nstand for the header
	Fast      bool
}

// Producer receives packets from a PacketSource, publishes the derived
// sequence header on the first packet of a sequence, and commits each
// packet's payload to the ring fabric as one span of its own. Packets
// are not combined into larger gulps, so each span holds a single
// packet's payload.
type Producer struct {
	Source    PacketSource
	Stats     RxStatsSource
	Ring      *ring.Ring
	Fill      *FillQueue
	Config    Config
	Log       *zap.SugaredLogger
	Shutdown  chan struct{}
}

// Run drives the capture loop until Shutdown is closed or the source
// reports a hard error. On a hard error Run returns nil and releases the
// writer scope, leaving the process running; it does not mark the current
// sequence as ended, so readers receive no end-of-sequence signal.
func (p *Producer) Run() error {
	w, err := p.Ring.BeginWriting()
	if err != nil {
		return err
	}
	defer w.Close()

	var (
		seq       *ring.Sequence
		curSeq0   int64 = -1
		lastGood  int64
		lastMiss  int64
		statsInit bool
	)

	gulpSize := p.Config.NTimeGulp * p.Config.NBl * gulp.NCHAN * gulp.NPol * 8

	for {
		select {
		case <-p.Shutdown:
			return nil
		default:
		}

		pkt, err := p.Source.ReadPacket()
		if err != nil {
			p.Log.Infow("capture device reported a hard error, ending sequence", "error", err)
			return nil
		}

		if pkt.Seq0 != curSeq0 {
			curSeq0 = pkt.Seq0
			header := gulp.HeaderFromWire(pkt.TimeTag, pkt.Seq0, pkt.Chan0, pkt.NChan, pkt.NAvg, pkt.NSrc, p.Config.Fast)
			hdrBytes, err := json.Marshal(header)
			if err != nil {
				return err
			}
			p.Ring.Resize(ring.Options{GulpSize: gulpSize})
			seq, err = w.BeginSequence(hdrBytes)
			if err != nil {
				return err
			}
			p.Log.Infow("started new sequence", "time_tag", pkt.TimeTag, "seq0", pkt.Seq0)
		}

		span, err := seq.Reserve(len(pkt.Payload))
		if err != nil {
			return err
		}
		copy(span.Data, pkt.Payload)
		span.Commit()

		if p.Stats != nil {
			good, missing, err := p.Stats.Sample()
			if err == nil {
				if statsInit {
					dGood := good - lastGood
					dMiss := missing - lastMiss
					p.Fill.Push(fillLevel(dGood, dMiss))
				}
				lastGood, lastMiss = good, missing
				statsInit = true
			}
		}
	}
}

func fillLevel(good, missing int64) float64 {
	total := good + missing
	if total <= 0 {
		return 0.0
	}
	return float64(good) / float64(total)
}

// Stop asks the producer to stop between packet receives; it is safe to
// call from any goroutine.
func Stop(shutdown chan struct{}) {
	select {
	case <-shutdown:
	default:
		close(shutdown)
	}
}
