// Package backend implements the Backend Handle (spec.md §4.2): a single
// language server reachable either as a spawned stdio child process or over
// a TCP socket, along with its advertised capabilities and its framed
// transport connection.
//
// Process spawn/teardown is grounded on the teacher's
// internal/ai/acp.Runner, which escalates SIGTERM to SIGKILL across a
// process group; it is adapted here from a one-shot request/response agent
// run into a long-lived language server process.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/wharflab/lspmux/internal/capability"
	"github.com/wharflab/lspmux/internal/config"
	"github.com/wharflab/lspmux/internal/logging"
	"github.com/wharflab/lspmux/internal/transport"
)

const defaultTerminateGrace = 2 * time.Second

// pipeRWC bridges a child process's stdin/stdout pipes into a single
// io.ReadWriteCloser, the same role stdioRWC plays for the editor-facing
// connection in the teacher's internal/lspserver/server.go.
type pipeRWC struct {
	stdout io.ReadCloser
	stdin  io.WriteCloser
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *pipeRWC) Close() error {
	err := p.stdin.Close()
	if cerr := p.stdout.Close(); err == nil {
		err = cerr
	}
	return err
}

// Backend is one multiplexed language server: its configuration, its
// connection, and the capabilities it advertised during `initialize`.
type Backend struct {
	Name   string
	Config config.BackendConfig

	Peer *transport.Peer

	log *logging.Logger

	cmd   *exec.Cmd
	grace time.Duration

	queueSize int
	queue     chan notifyJob

	mu           sync.RWMutex
	capabilities capability.Capabilities
	initialized  bool
	shutdownSent bool
}

// notifyJob is one queued outbound notification, drained in FIFO order by a
// single goroutine per backend so broadcasts cannot interleave or reorder
// on their way to a slow backend (spec.md §5, §9 "per-backend output
// ordering").
type notifyJob struct {
	method string
	params json.RawMessage
}

// New constructs a Backend bound to cfg. Name is a short identifier (e.g.
// "backend[0]") used for logging and error messages, not part of the
// protocol. queueSize bounds the backend's outbound notification queue
// before callers block (spec.md §5 backpressure).
func New(name string, cfg config.BackendConfig, queueSize int, log *logging.Logger) *Backend {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Backend{
		Name:      name,
		Config:    cfg,
		log:       log.WithPrefix(name),
		grace:     defaultTerminateGrace,
		queueSize: queueSize,
	}
}

// Start establishes the backend's transport: spawning a child process for a
// `cmd`-configured backend, or dialing TCP for a `port`-configured one
// (spec.md §6). handler/preempter are wired into the resulting connection so
// backend-initiated requests and notifications reach the Router.
func (b *Backend) Start(ctx context.Context, handler transport.Handler, preempter transport.Preempter) error {
	rwc, err := b.dial(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", b.Name, err)
	}

	peer, err := transport.Dial(ctx, rwc, handler, preempter, nil)
	if err != nil {
		_ = rwc.Close()
		return fmt.Errorf("%s: dial transport: %w", b.Name, err)
	}
	b.Attach(peer)
	return nil
}

// Attach wires an already-dialed peer into this Backend and starts its
// notification queue. Start uses it for the normal spawn/dial path; tests
// use it to attach a fake in-process peer without spawning anything.
func (b *Backend) Attach(peer *transport.Peer) {
	b.Peer = peer
	b.queue = make(chan notifyJob, b.queueSize)
	go b.drainQueue()
}

// drainQueue delivers queued notifications to the backend one at a time,
// in enqueue order, until the queue is closed.
func (b *Backend) drainQueue() {
	for job := range b.queue {
		if err := b.Peer.Notify(context.Background(), job.method, job.params); err != nil {
			b.log.Warnf("queued notify %s failed: %v", job.method, err)
		}
	}
}

// Enqueue queues a notification for delivery to this backend, blocking if
// the queue is full (spec.md §5 backpressure) until ctx is done.
func (b *Backend) Enqueue(ctx context.Context, method string, params json.RawMessage) {
	select {
	case b.queue <- notifyJob{method: method, params: params}:
	case <-ctx.Done():
	}
}

func (b *Backend) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if b.Config.IsTCP() {
		return b.dialTCP(ctx)
	}
	return b.spawn()
}

func (b *Backend) dialTCP(ctx context.Context) (io.ReadWriteCloser, error) {
	addr := fmt.Sprintf("%s:%d", b.Config.EffectiveHost(), b.Config.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	b.log.Infof("connected to %s", addr)
	return conn, nil
}

func (b *Backend) spawn() (io.ReadWriteCloser, error) {
	if b.Config.Cmd == "" {
		return nil, fmt.Errorf("no cmd or port configured")
	}

	cmd := exec.Command(b.Config.Cmd, b.Config.Args...) //nolint:gosec // backend command is operator-supplied configuration
	configureProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("start %s: %w", b.Config.Cmd, err)
	}

	b.cmd = cmd
	b.log.Infof("spawned pid=%d cmd=%s", cmd.Process.Pid, b.Config.Cmd)
	return &pipeRWC{stdout: stdout, stdin: stdin}, nil
}

// Initialize performs the `initialize` handshake against this backend and
// records its advertised capabilities (spec.md §4.4.2).
func (b *Backend) Initialize(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var raw json.RawMessage
	result, err := b.Peer.Call(ctx, "initialize", json.RawMessage(params))
	if err != nil {
		return nil, err
	}
	raw = result

	var parsed struct {
		Capabilities json.RawMessage `json:"capabilities"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%s: parse initialize result: %w", b.Name, err)
	}

	b.mu.Lock()
	b.capabilities = capability.Parse(parsed.Capabilities)
	b.initialized = true
	b.mu.Unlock()

	return raw, nil
}

// Capabilities returns the capability snapshot recorded at initialize time.
func (b *Backend) Capabilities() capability.Capabilities {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capabilities
}

// Initialized reports whether this backend has completed `initialize`.
func (b *Backend) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Shutdown sends the `shutdown` request, recording that it has been sent so
// a repeated Shutdown call on this backend does not send it a second time.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.shutdownSent {
		b.mu.Unlock()
		return nil
	}
	b.shutdownSent = true
	b.mu.Unlock()

	_, err := b.Peer.Call(ctx, "shutdown", nil)
	return err
}

// Exit notifies the backend to exit and tears down its transport and
// (for spawned backends) its process.
func (b *Backend) Exit(ctx context.Context) error {
	if b.Peer != nil {
		_ = b.Peer.Notify(ctx, "exit", nil)
		_ = b.Peer.Close()
	}
	return b.terminate()
}

// Kill forcibly terminates a spawned backend process (spec.md §7, fatal
// backend failure). For TCP-connected backends, whose process this proxy
// does not own, it only closes the connection.
func (b *Backend) Kill() error {
	if b.Peer != nil {
		_ = b.Peer.Close()
	}
	return b.terminate()
}

func (b *Backend) terminate() error {
	if b.cmd == nil {
		return nil
	}
	_, err := terminateProcess(b.cmd, b.grace)
	return err
}
