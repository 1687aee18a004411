// Package router implements the Router and Lifecycle Coordinator: the
// message-routing core that demultiplexes one editor-facing JSON-RPC
// connection across a fixed set of backend language servers.
//
// The client and each backend are wired through internal/transport, whose
// per-connection Call/Await already gives every outbound request a unique,
// self-correlating id within that connection (golang.org/x/exp/jsonrpc2's
// own bookkeeping), and the same mechanism is reused for backend-initiated
// (server→client) requests and for `$/cancelRequest` propagation — no
// separate id-translation or cancellation registry is layered on top. What
// Router still owns explicitly: the resolved-backend cache per routable
// method/command, the codeAction backend set, the lifecycle state machine,
// and the diagnostics tracker. See DESIGN.md for the full rationale.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/wharflab/lspmux/internal/backend"
	"github.com/wharflab/lspmux/internal/capability"
	"github.com/wharflab/lspmux/internal/config"
	"github.com/wharflab/lspmux/internal/logging"
	"github.com/wharflab/lspmux/internal/transport"
)

// State is a Lifecycle Coordinator state (spec.md §4.5).
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StateShuttingDown
	StateShutdownAcked
	StateExited
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateShutdownAcked:
		return "SHUTDOWN_ACKED"
	case StateExited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

// diagKey identifies one (document, backend) diagnostics slot.
type diagKey struct {
	uri     string
	backend string
}

// Router ties together the Backend Handles, Capability Model, Routing
// Resolver, and Lifecycle Coordinator described across spec.md §4.
type Router struct {
	backends []*backend.Backend
	primary  *backend.Backend

	settings config.Settings
	log      *logging.Logger

	client *transport.Peer

	mu                 sync.Mutex
	state              State
	cleanExit          bool
	resolved           map[string]*backend.Backend // routable method -> backend
	commandBackend     map[string]*backend.Backend // command name -> backend
	codeActionBackends []*backend.Backend
	resolvedOnce       bool

	diagnostics map[diagKey]json.RawMessage

	exitCh chan struct{}
}

// New constructs a Router over backends (index 0 is the primary, per
// spec.md §3).
func New(backends []*backend.Backend, settings config.Settings, log *logging.Logger) *Router {
	if len(backends) == 0 {
		panic("router: at least one backend is required")
	}
	return &Router{
		backends:       backends,
		primary:        backends[0],
		settings:       settings,
		log:            log,
		state:          StateUninitialized,
		resolved:       make(map[string]*backend.Backend),
		commandBackend: make(map[string]*backend.Backend),
		diagnostics:    make(map[diagKey]json.RawMessage),
		exitCh:         make(chan struct{}),
	}
}

func (r *Router) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Router) getState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// State returns the Router's current Lifecycle Coordinator state.
func (r *Router) State() State {
	return r.getState()
}

// CleanExit reports whether the session ended via the documented
// shutdown→exit sequence (spec.md §6 exit code 0) as opposed to an abrupt
// client disconnect or fatal backend failure.
func (r *Router) CleanExit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanExit
}

// Start dials every configured backend (spec.md §6) and wires each
// connection's inbound traffic to the Router.
func (r *Router) Start(ctx context.Context) error {
	for _, b := range r.backends {
		bh := b
		handler := transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (any, error) {
			return r.handleBackend(ctx, bh, req)
		})
		if err := bh.Start(ctx, handler, nil); err != nil {
			return fmt.Errorf("start %s: %w", bh.Name, err)
		}
	}
	return nil
}

// Serve binds the client connection over rwc and blocks until it closes or
// the session exits.
func (r *Router) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	peer, err := transport.Dial(ctx, rwc,
		transport.HandlerFunc(r.handleClient),
		&clientPreempter{router: r},
		func(p *transport.Peer) { r.client = p },
	)
	if err != nil {
		return fmt.Errorf("dial client: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = peer.Close()
		case <-r.exitCh:
			_ = peer.Close()
		case <-done:
		}
	}()
	defer close(done)

	waitErr := peer.Wait()

	// Client stream EOF without exit (spec.md §7): broadcast exit and terminate.
	if r.getState() != StateExited {
		r.log.Warnf("client stream closed without exit, broadcasting exit to backends")
		r.broadcastExit(context.Background())
		r.setState(StateExited)
	}
	return waitErr
}

// handleClient dispatches one client-originated request or notification
// (spec.md §4.4, "Client → Proxy" event classes).
func (r *Router) handleClient(ctx context.Context, req *transport.Request) (any, error) {
	isNotification := !req.ID.IsValid()

	switch req.Method {
	case "initialize":
		return r.handleInitialize(ctx, req)
	case "initialized":
		r.broadcastToInitialized(ctx, "initialized", req.Params)
		return nil, nil //nolint:nilnil // notification, no result expected
	case "shutdown":
		return r.handleShutdown(ctx, req)
	case "exit":
		wasAcked := r.getState() == StateShutdownAcked
		r.broadcastExit(ctx)
		r.mu.Lock()
		r.state = StateExited
		r.cleanExit = wasAcked
		r.mu.Unlock()
		close(r.exitCh)
		return nil, nil //nolint:nilnil // notification, no result expected
	case "$/cancelRequest":
		return nil, nil //nolint:nilnil // handled by clientPreempter
	}

	if st := r.getState(); st == StateUninitialized {
		if isNotification {
			return nil, nil //nolint:nilnil
		}
		return nil, transport.NewError(transport.ErrCodeServerNotInit, "server not initialized")
	} else if st >= StateShuttingDown && req.Method != "exit" {
		if isNotification {
			return nil, nil //nolint:nilnil
		}
		return nil, transport.NewError(transport.ErrCodeInvalidRequest, "server is shutting down")
	}

	if req.Method == capability.MethodCodeAction {
		if isNotification {
			return nil, nil //nolint:nilnil
		}
		return r.handleCodeAction(ctx, req)
	}

	if capability.IsRoutable(req.Method) {
		if isNotification {
			return nil, nil //nolint:nilnil
		}
		return r.handleRoutable(ctx, req)
	}

	if isNotification {
		if req.Method == "workspace/didChangeConfiguration" {
			r.handleDidChangeConfiguration(ctx, req.Params)
		} else {
			r.broadcastToInitialized(ctx, req.Method, req.Params)
		}
		return nil, nil //nolint:nilnil
	}

	// All other requests forward to the primary (spec.md §4.4, "All other requests").
	return r.forwardToOne(ctx, r.primary, req.ID, req.Method, req.Params)
}

// forwardToOne sends a single-target request to target and relays its
// response. Cancellation (spec.md §5) rides the request's own context: the
// clientPreempter cancels it via Connection.Cancel when `$/cancelRequest`
// arrives for this id, and that cancellation is what triggers the
// `$/cancelRequest` forwarded to target here.
func (r *Router) forwardToOne(ctx context.Context, target *backend.Backend, _ transport.ID, method string, params json.RawMessage) (json.RawMessage, error) {
	call := target.Peer.CallAsync(ctx, method, json.RawMessage(params))
	raw, err := call.Await(ctx)
	if err != nil && ctx.Err() != nil {
		_ = target.Peer.CancelRemote(context.Background(), call.ID())
	}
	return raw, err
}

// broadcastToInitialized queues method as a notification to every backend
// that has completed initialize (spec.md §4.4, "initialized" handling),
// preserving each backend's own FIFO delivery order (spec.md §5, §9).
func (r *Router) broadcastToInitialized(ctx context.Context, method string, params json.RawMessage) {
	for _, b := range r.backends {
		if !b.Initialized() {
			continue
		}
		b.Enqueue(ctx, method, params)
	}
}

// broadcastExit forwards `exit` to every backend exactly once (spec.md §3
// invariant) and tears each one down.
func (r *Router) broadcastExit(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range r.backends {
		bh := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bh.Exit(ctx); err != nil {
				r.log.Warnf("exit %s: %v", bh.Name, err)
			}
		}()
	}
	wg.Wait()
}
