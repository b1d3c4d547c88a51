// Package command implements the Command processor of spec.md §4.10
// (the `VisibilityCommandProcessor` the distillation dropped, recovered in
// SPEC_FULL.md's expansion): it accepts record/cancel/delete requests from
// an injected Transport and translates them into recqueue.Queue mutations.
package command

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/recqueue"
)

// Verb names one of the three request kinds spec.md §3 names for a
// recording operation.
type Verb string

const (
	Record Verb = "record"
	Cancel Verb = "cancel"
	Delete Verb = "delete"
)

// Request is one command the transport delivers to the Processor.
type Request struct {
	Verb     Verb      `json:"verb"`
	ID       string    `json:"id"`
	StartUTC time.Time `json:"start_utc"`
	StopUTC  time.Time `json:"stop_utc"`
}

// Response is returned to the transport for every Request.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WriterFactory builds the recqueue.Writer a new record operation should
// use, so the processor stays independent of on-disk layout choices
// (directory naming, nint_per_file, tar policy).
type WriterFactory func(id string) recqueue.Writer

// Transport delivers Requests to a Processor and carries back Responses;
// the out-of-scope command/monitor transport spec.md §1 names. Handle is
// called once per inbound request.
type Transport interface {
	Serve(handle func(Request) Response) error
}

// Processor is the command processor: it owns no transport of its own,
// only the translation from Request to recqueue.Queue mutation.
type Processor struct {
	Queue         *recqueue.Queue
	WriterFactory WriterFactory
	Log           *zap.SugaredLogger
}

// Handle processes one Request and returns the Response to send back.
func (p *Processor) Handle(req Request) Response {
	switch req.Verb {
	case Record:
		return p.handleRecord(req)
	case Cancel:
		if err := p.Queue.CancelByID(req.ID); err != nil {
			p.Log.Warnw("cancel rejected", "id", req.ID, "error", err)
			return Response{OK: false, Error: err.Error()}
		}
		p.Log.Infow("cancelled operation", "id", req.ID)
		return Response{OK: true}
	case Delete:
		if err := p.Queue.DeleteByID(req.ID); err != nil {
			p.Log.Warnw("delete rejected", "id", req.ID, "error", err)
			return Response{OK: false, Error: err.Error()}
		}
		p.Log.Infow("deleted operation", "id", req.ID)
		return Response{OK: true}
	default:
		err := fmt.Errorf("command: unknown verb %q", req.Verb)
		return Response{OK: false, Error: err.Error()}
	}
}

func (p *Processor) handleRecord(req Request) Response {
	if req.ID == "" {
		return Response{OK: false, Error: "command: record requires an id"}
	}

	var w recqueue.Writer
	if p.WriterFactory != nil {
		w = p.WriterFactory(req.ID)
	}

	op := &recqueue.Operation{
		ID:       req.ID,
		StartUTC: req.StartUTC,
		StopUTC:  req.StopUTC,
		Writer:   w,
	}
	if err := p.Queue.Enqueue(op); err != nil {
		p.Log.Warnw("record rejected", "id", req.ID, "error", err)
		return Response{OK: false, Error: err.Error()}
	}
	p.Log.Infow("enqueued operation", "id", req.ID, "start", req.StartUTC, "stop", req.StopUTC)
	return Response{OK: true}
}

// Run blocks serving requests from t until it returns (on listener
// shutdown or fatal error).
func (p *Processor) Run(t Transport) error {
	return t.Serve(p.Handle)
}
