// Package lspmuxtest provides an in-process fake language server and a
// pipe-backed transport.Peer pair, so router tests can exercise the Router
// against real jsonrpc2 framing without spawning a process or listening on
// a TCP socket.
//
// Grounded on the teacher's own server_test.go, which dials a
// jsonrpc2.Connection over an io.Pipe (dialTestConnection/pipeDialer) to
// get a live connection for unit tests; this package generalizes that to a
// full duplex pair backed by net.Pipe, since router tests need two parties
// that actually talk to each other rather than one connection whose
// read/write ends loop back.
package lspmuxtest

import (
	"context"
	"encoding/json"
	"net"

	"github.com/wharflab/lspmux/internal/logging"
	"github.com/wharflab/lspmux/internal/transport"
)

// Pair returns two connected io.ReadWriteCloser ends, akin to net.Pipe.
func Pair() (net.Conn, net.Conn) {
	return net.Pipe()
}

// FakeServer is a minimal in-process language server used as a stand-in
// backend: it answers configured methods from Responses and records every
// call/notification it receives.
type FakeServer struct {
	// Responses maps a method name to the raw JSON result returned for a
	// request of that method. A method absent from this map returns a
	// method-not-found error.
	Responses map[string]json.RawMessage

	received chan Received

	// Peer is this server's own end of the connection, set once Dial has
	// run, for tests that need to send a server-initiated notification or
	// request (e.g. textDocument/publishDiagnostics).
	Peer *transport.Peer
}

// Received is one request or notification the FakeServer observed.
type Received struct {
	Method string
	Params json.RawMessage
	IsNote bool
}

// NewFakeServer constructs a FakeServer with the given canned responses.
func NewFakeServer(responses map[string]json.RawMessage) *FakeServer {
	return &FakeServer{
		Responses: responses,
		received:  make(chan Received, 64),
	}
}

// Inbox returns the channel of observed requests/notifications, in arrival
// order. A receive blocks until one arrives; callers that must not block
// receive from it inside a select.
func (f *FakeServer) Inbox() <-chan Received {
	return f.received
}

func (f *FakeServer) Handler() transport.Handler {
	return transport.HandlerFunc(func(_ context.Context, req *transport.Request) (any, error) {
		f.received <- Received{Method: req.Method, Params: json.RawMessage(req.Params), IsNote: !req.ID.IsValid()}
		if !req.ID.IsValid() {
			return nil, nil //nolint:nilnil
		}
		if raw, ok := f.Responses[req.Method]; ok {
			return raw, nil
		}
		return nil, transport.NewError(transport.ErrCodeMethodNotFound, "method not found: "+req.Method)
	})
}

// Dial binds a FakeServer to one end of a connection.
func (f *FakeServer) Dial(ctx context.Context, conn net.Conn) (*transport.Peer, error) {
	peer, err := transport.Dial(ctx, conn, f.Handler(), nil, nil)
	if err != nil {
		return nil, err
	}
	f.Peer = peer
	return peer, nil
}

// NopLogger returns a Logger that discards everything, for tests that don't
// assert on log output.
func NopLogger() *logging.Logger {
	return logging.New(discard{}, logging.LevelSilent)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
