// Package transport frames one bidirectional JSON-RPC peer connection —
// client or backend — on top of golang.org/x/exp/jsonrpc2, the library the
// teacher's internal/lspserver/server.go uses for its own stdio connection.
//
// Framing (spec.md §4.1/§6: Content-Length-delimited JSON-RPC) and
// per-connection id bookkeeping are both delegated to jsonrpc2.Connection;
// see DESIGN.md for why the Router builds its own routing/aggregation logic
// on top of this instead of re-deriving id correlation by hand.
package transport

import (
	"context"
	"encoding/json"
	"io"

	"golang.org/x/exp/jsonrpc2"
)

// Handler processes an inbound request or notification and returns the
// result to reply with (ignored for notifications).
type Handler = jsonrpc2.Handler

// HandlerFunc adapts a function to a Handler.
type HandlerFunc = jsonrpc2.HandlerFunc

// Preempter intercepts a request before the normal Handler, used for
// `$/cancelRequest` (spec.md §5).
type Preempter = jsonrpc2.Preempter

// Request is an inbound JSON-RPC request or notification.
type Request = jsonrpc2.Request

// ID is a JSON-RPC request/response identifier, preserving string vs.
// integer representation (spec.md §3).
type ID = jsonrpc2.ID

// ErrNotHandled is returned by a Preempter to fall through to the normal
// Handler for a method it does not intercept.
var ErrNotHandled = jsonrpc2.ErrNotHandled

// NewError builds a JSON-RPC error with the given numeric code.
func NewError(code int64, message string) error {
	return jsonrpc2.NewError(code, message)
}

// Error codes used throughout the Router (spec.md §4.5, §7).
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeServerNotInit  = -32002
)

// rwcDialer adapts an already-open io.ReadWriteCloser to jsonrpc2.Dialer, the
// same one-shot pattern internal/lspserver/server.go uses for its stdio pipe.
type rwcDialer struct {
	rwc io.ReadWriteCloser
}

func (d rwcDialer) Dial(context.Context) (io.ReadWriteCloser, error) {
	return d.rwc, nil
}

// binder is a jsonrpc2.Binder that installs a fixed Handler/Preempter pair
// and Content-Length framing on every connection it binds, invoking onBind
// synchronously with the bound *Peer before any message is dispatched.
type binder struct {
	handler   Handler
	preempter Preempter
	onBind    func(*Peer)
}

func (b binder) Bind(_ context.Context, conn *jsonrpc2.Connection) (jsonrpc2.ConnectionOptions, error) {
	if b.onBind != nil {
		b.onBind(&Peer{conn: conn})
	}
	return jsonrpc2.ConnectionOptions{
		Framer:    jsonrpc2.HeaderFramer(),
		Preempter: b.preempter,
		Handler:   b.handler,
	}, nil
}

// Peer is one framed JSON-RPC connection — the client's editor stream or a
// single backend's stream — wrapping jsonrpc2.Connection with the call
// shape the Router needs (raw-JSON in, raw-JSON out).
type Peer struct {
	conn *jsonrpc2.Connection
}

// Dial establishes a Peer over rwc, dispatching inbound traffic to handler
// (and, if non-nil, preempter for fast-path interception such as
// `$/cancelRequest`). If onBind is non-nil it runs synchronously during the
// bind, before the connection's read loop can dispatch any message — the
// hook a caller uses to publish the *Peer to shared state race-free.
func Dial(ctx context.Context, rwc io.ReadWriteCloser, handler Handler, preempter Preempter, onBind func(*Peer)) (*Peer, error) {
	var bound *Peer
	capture := func(p *Peer) {
		bound = p
		if onBind != nil {
			onBind(p)
		}
	}
	conn, err := jsonrpc2.Dial(ctx, rwcDialer{rwc: rwc}, binder{handler: handler, preempter: preempter, onBind: capture})
	if err != nil {
		return nil, err
	}
	if bound != nil {
		return bound, nil
	}
	return &Peer{conn: conn}, nil
}

// Call sends a request and blocks for the matching response, returning its
// raw JSON result. The backend- or client-local id is entirely managed by
// the underlying jsonrpc2.Connection; callers never see or choose it.
func (p *Peer) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	call := p.CallAsync(ctx, method, params)
	return call.Await(ctx)
}

// Call is an in-flight outbound request, exposing the id the connection
// assigned it so a caller can correlate a later `$/cancelRequest` (spec.md
// §5) before the response arrives.
type Call struct {
	call *jsonrpc2.AsyncCall
}

// ID returns the id this call was sent with.
func (c *Call) ID() ID {
	return c.call.ID()
}

// Await blocks for the response.
func (c *Call) Await(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call.Await(ctx, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// CallAsync sends a request without blocking for the response, returning a
// handle that exposes the assigned id immediately.
func (p *Peer) CallAsync(ctx context.Context, method string, params any) *Call {
	return &Call{call: p.conn.Call(ctx, method, params)}
}

// Notify sends a notification (no response expected).
func (p *Peer) Notify(ctx context.Context, method string, params any) error {
	return p.conn.Notify(ctx, method, params)
}

// CancelRemote asks the peer to cancel the request it is processing under id,
// by sending the standard `$/cancelRequest` notification (spec.md §5).
func (p *Peer) CancelRemote(ctx context.Context, id ID) error {
	return p.Notify(ctx, "$/cancelRequest", map[string]any{"id": id.Raw()})
}

// CancelLocal cancels the context passed to this connection's Handler for
// the in-flight inbound request id, the mechanism a Preempter uses to react
// to an incoming `$/cancelRequest` (spec.md §5).
func (p *Peer) CancelLocal(id ID) {
	p.conn.Cancel(id)
}

// Close tears down the connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}

// Wait blocks until the connection is closed by either side.
func (p *Peer) Wait() error {
	return p.conn.Wait()
}
