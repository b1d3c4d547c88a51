package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// TCPTransport is the reference Transport: a newline-delimited
// JSON-over-TCP protocol, one Request/Response pair per line.
//
// Grounded on rtltcp/server.go's Server: an Addr to listen on, an accept
// loop handing each connection to its own goroutine, and a context
// cancelled when the connection's read loop ends -- generalized here
// from rtl-tcp's fixed binary Request struct to a textual,
// record/cancel/delete-shaped one.
type TCPTransport struct {
	Addr string
	Log  *zap.SugaredLogger

	// ConnContext will create a context based on the provided net.Conn,
	// mirroring rtltcp.Server's hook of the same name.
	ConnContext func(ctx context.Context, c net.Conn) context.Context
}

// Serve listens on Addr and handles connections until the listener
// returns an error (typically from Close by the caller).
func (t *TCPTransport) Serve(handle func(Request) Response) error {
	listener, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return fmt.Errorf("command: listen %s: %w", t.Addr, err)
	}
	return t.serveListener(listener, handle)
}

func (t *TCPTransport) serveListener(listener net.Listener, handle func(Request) Response) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go t.serveConn(conn, handle)
	}
}

func (t *TCPTransport) serveConn(conn net.Conn, handle func(Request) Response) {
	ctx, cancel := context.WithCancel(context.Background())
	defer conn.Close()
	defer cancel()

	if t.ConnContext != nil {
		ctx = t.ConnContext(ctx, conn)
	}

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			t.logf("malformed command request; discarding", err)
			_ = encoder.Encode(Response{OK: false, Error: "malformed request"})
			continue
		}

		resp := handle(req)
		if err := encoder.Encode(resp); err != nil {
			t.logf("failed writing command response", err)
			return
		}
	}
}

func (t *TCPTransport) logf(msg string, err error) {
	if t.Log != nil {
		t.Log.Warnw(msg, "error", err)
	}
}
