// Package writer implements the Writer stage of spec.md §4.4: the
// seven-step per-gulp protocol that normalizes raw visibility data, polls
// the fill-level queue, and drives the recording queue's lifecycle.
//
// Grounded directly on WriterOp.main in
// original_source/scripts/dr_visibilities.py: every numbered step below
// corresponds to a block of that function, including the write-error
// throttling (log once, then every 50th) and latest_time_tag/
// latest_frequency monitor points.
package writer

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/recqueue"
	"github.com/peijin94/ovro-data-recorder/ring"
)

// Monitor publishes named monitor points, matching the Client interface
// VisibilityCommandProcessor and WriterOp both hold in the retrieved
// source (`self.client.write_monitor_point`).
type Monitor interface {
	WriteMonitorPoint(name string, value interface{}, unit string)
}

// FillSource supplies the most recent fill-level sample, non-blocking; it
// is capture.FillQueue's Pop method, narrowed to the one method the writer
// needs so this package does not import capture.
type FillSource interface {
	Pop() (float64, bool)
}

// Config configures a Stage.
type Config struct {
	StationID string
	Fast      bool
	Guarantee bool
}

// Stage is the Writer stage: one goroutine reads committed gulps off the
// ring and drives the recording queue.
type Stage struct {
	Ring    *ring.Ring
	Queue   *recqueue.Queue
	Fill    FillSource
	Monitor Monitor
	Config  Config
	Log     *zap.SugaredLogger

	errCount    int
	errAsserted bool
}

// Run reads sequences off the ring until it closes, applying the
// seven-step protocol to every committed gulp.
func (s *Stage) Run() error {
	rs := s.Ring.Read(s.Config.Guarantee)

	for {
		hdrBytes, err := rs.Header()
		if err != nil {
			return nil
		}

		var hdr gulp.Header
		if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
			return err
		}

		if err := s.runSequence(rs, hdr); err != nil {
			return err
		}
	}
}

func (s *Stage) runSequence(rs *ring.ReadStream, hdr gulp.Header) error {
	s.Log.Infow("Writer: start of new sequence", "time_tag", hdr.TimeTag, "seq0", hdr.Seq0)

	chanBW := float64(hdr.ChanBW())
	normFactor := gulp.NormFactor(hdr.NAvg, s.Config.Fast)
	shape := gulp.Shape{NTime: 1, NBl: hdr.NBl, NChan: hdr.NChan, NPol: hdr.NPol}
	gulpSize := shape.Len() * 2 * 4
	pols := []string{"XX", "XY", "YX", "YY"}

	if s.Monitor != nil {
		s.Monitor.WriteMonitorPoint("latest_frequency", float64(hdr.CenterFreq), "Hz")
	}

	timeTag := hdr.TimeTag
	firstGulp := true
	wasActive := false

	for {
		span, err := rs.Next()
		if err != nil {
			break
		}
		if span.Size < gulpSize {
			continue // step 0 precondition: ignore the final short gulp
		}

		buf := gulp.Buffer{Shape: shape, Data: gulp.BytesToInt32(span.Data)}
		cdata := buf.Normalize(normFactor) // step 2

		if firstGulp {
			s.Queue.UpdateLag(gulp.TimeTagToTime(timeTag)) // step 1
			s.Log.Infow("current pipeline lag", "lag", s.Queue.Lag())
			firstGulp = false
		}

		fillLevel, ok := s.popFillLevel() // step 3
		if !ok {
			s.Log.Warnw("failed to get integration fill level")
		}

		active := s.Queue.Active() // step 4
		if active != nil {
			if !active.IsStarted {
				s.Log.Infow("started operation", "id", active.ID)
				if err := active.Start(s.Config.StationID, hdr.Chan0, hdr.NAvg, hdr.NChan, chanBW, hdr.NPol, pols); err != nil {
					s.Log.Errorw("failed to start operation", "id", active.ID, "error", err)
				}
				wasActive = true
			}

			if err := active.Write(timeTag, cdata.Data, fillLevel); err != nil {
				s.recordWriteError(err)
			} else {
				if s.Monitor != nil && !s.Config.Fast {
					s.Monitor.WriteMonitorPoint("latest_time_tag", timeTag, "")
				}
				s.resetWriteError()
			}
		} else if wasActive { // step 5
			wasActive = false
			s.Queue.Clean()
			if prev := s.Queue.Previous(); prev != nil {
				s.Log.Infow("ended operation", "id", prev.ID)
				if err := prev.Stop(); err != nil {
					s.Log.Errorw("failed to stop operation", "id", prev.ID, "error", err)
				}
			}
		}

		timeTag += hdr.NAvg // step 6
	}

	if s.Monitor != nil {
		s.Monitor.WriteMonitorPoint("latest_frequency", nil, "Hz") // step 7
	}
	return nil
}

func (s *Stage) popFillLevel() (float64, bool) {
	if s.Fill == nil {
		return -1.0, false
	}
	v, ok := s.Fill.Pop()
	if !ok {
		return -1.0, false
	}
	return v, true
}

// recordWriteError implements the assert-once, re-assert-every-50th
// throttling of the write-error log.
func (s *Stage) recordWriteError(err error) {
	if !s.errAsserted {
		s.errAsserted = true
		s.Log.Errorw("write error asserted", "error", err)
		s.errCount = 0
	}
	s.errCount++
	if s.errCount%50 == 0 {
		s.Log.Errorw("write error re-asserted", "count", s.errCount, "error", err)
	}
}

func (s *Stage) resetWriteError() {
	if s.errAsserted {
		s.errAsserted = false
		s.Log.Infow("write error de-asserted", "count", s.errCount)
		s.errCount = 0
	}
}
