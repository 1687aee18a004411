package router

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wharflab/lspmux/internal/backend"
	"github.com/wharflab/lspmux/internal/config"
	"github.com/wharflab/lspmux/internal/lspmuxtest"
	"github.com/wharflab/lspmux/internal/transport"
)

// session wires a Router to N fake backends and one fake client, all
// connected over in-memory net.Pipe pairs, for table-driven dispatch tests.
type session struct {
	t          *testing.T
	router     *Router
	client     *transport.Peer
	clientFake *lspmuxtest.FakeServer
	backends   []*lspmuxtest.FakeServer
}

// newSession builds a Router over one fake backend per entry in configs,
// each answering the methods in the matching entry of responses.
func newSession(t *testing.T, configs []config.BackendConfig, responses []map[string]json.RawMessage) *session {
	t.Helper()
	ctx := context.Background()

	backends := make([]*backend.Backend, len(configs))
	for i, cfg := range configs {
		backends[i] = backend.New(fmt.Sprintf("backend[%d]", i), cfg, 16, lspmuxtest.NopLogger())
	}

	r := New(backends, config.DefaultSettings(), lspmuxtest.NopLogger())

	fakes := make([]*lspmuxtest.FakeServer, len(configs))
	for i, b := range backends {
		serverSide, routerSide := lspmuxtest.Pair()

		fake := lspmuxtest.NewFakeServer(responses[i])
		_, err := fake.Dial(ctx, serverSide)
		require.NoError(t, err)
		fakes[i] = fake

		bh := b
		handler := transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (any, error) {
			return r.handleBackend(ctx, bh, req)
		})
		peer, err := transport.Dial(ctx, routerSide, handler, nil, nil)
		require.NoError(t, err)
		bh.Attach(peer)
	}

	clientServerSide, clientRouterSide := lspmuxtest.Pair()
	go func() { _ = r.Serve(ctx, clientRouterSide) }()

	clientFake := lspmuxtest.NewFakeServer(nil)
	clientPeer, err := transport.Dial(ctx, clientServerSide, clientFake.Handler(), nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = clientPeer.Close() })

	return &session{t: t, router: r, client: clientPeer, clientFake: clientFake, backends: fakes}
}

func noopHandler(context.Context, *transport.Request) (any, error) {
	return nil, nil //nolint:nilnil
}

func (s *session) initialize(t *testing.T) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := s.client.Call(ctx, "initialize", map[string]any{"capabilities": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, s.client.Notify(ctx, "initialized", map[string]any{}))
	return result
}

func rawObj(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
