package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharflab/lspmux/internal/capability"
	"github.com/wharflab/lspmux/internal/config"
	"github.com/wharflab/lspmux/internal/lspmuxtest"
)

// snapConfig matches internal/lspserver/server_test.go's TestSeverityConversion:
// sorted keys and a one-space indent keep golden JSON diffs stable and readable.
var snapConfig = snaps.WithConfig(snaps.JSON(snaps.JSONConfig{SortKeys: true, Indent: " "}))

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// backend[0] (primary) has no completionProvider; backend[1] does, and is
// reached through the default resolver order without any useCompletion
// preference flag set.
func TestRouter_CompletionRoutesToCapableBackend(t *testing.T) {
	t.Parallel()

	s := newSession(t,
		[]config.BackendConfig{{Cmd: "primary"}, {Cmd: "secondary"}},
		[]map[string]json.RawMessage{
			{"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{}})},
			{
				"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{
					"completionProvider": map[string]any{},
				}}),
				capability.MethodCompletion: rawObj(t, map[string]any{"isIncomplete": false, "items": []any{"from-secondary"}}),
			},
		},
	)
	s.initialize(t)

	ctx, cancel := callCtx()
	defer cancel()
	result, err := s.client.Call(ctx, capability.MethodCompletion, map[string]any{})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(result, &got))
	assert.Equal(t, []any{"from-secondary"}, got["items"])
}

// The synthesized initialize result keeps the primary's capabilities and
// copies in provider fields from non-primary backends the resolver picked
// (here the secondary's completionProvider; its codeActionProvider is not
// copied); golden-snapshot it the way TestSeverityConversion snapshots conversion
// output, rather than re-asserting each field by hand.
func TestRouter_InitializeSynthesizesMergedCapabilities(t *testing.T) {
	t.Parallel()

	s := newSession(t,
		[]config.BackendConfig{{Cmd: "primary"}, {Cmd: "secondary"}},
		[]map[string]json.RawMessage{
			{"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{
				"documentFormattingProvider": true,
			}})},
			{"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{
				"completionProvider": map[string]any{},
				"codeActionProvider": true,
			}})},
		},
	)

	result := s.initialize(t)

	var got any
	require.NoError(t, json.Unmarshal(result, &got))
	snapConfig.MatchStandaloneJSON(t, got)
}

// Neither backend advertises documentFormattingProvider, so formatting
// falls back to the primary per the resolver's last step.
func TestRouter_FormattingFallsBackToPrimary(t *testing.T) {
	t.Parallel()

	s := newSession(t,
		[]config.BackendConfig{{Cmd: "primary"}, {Cmd: "secondary"}},
		[]map[string]json.RawMessage{
			{
				"initialize":                rawObj(t, map[string]any{"capabilities": map[string]any{}}),
				capability.MethodFormatting: rawObj(t, []any{map[string]any{"newText": "from-primary"}}),
			},
			{"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{}})},
		},
	)
	s.initialize(t)

	ctx, cancel := callCtx()
	defer cancel()
	result, err := s.client.Call(ctx, capability.MethodFormatting, map[string]any{})
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(result, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "from-primary", got[0]["newText"])
}

// backend[1] has useDiagnostics: false, so its publishDiagnostics
// notifications never reach the client even though it is tracked
// internally.
func TestRouter_DiagnosticsFiltering(t *testing.T) {
	t.Parallel()

	disabled := false
	s := newSession(t,
		[]config.BackendConfig{{Cmd: "primary"}, {Cmd: "secondary", UseDiagnostics: &disabled}},
		[]map[string]json.RawMessage{
			{"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{}})},
			{"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{}})},
		},
	)
	s.initialize(t)

	ctx, cancel := callCtx()
	defer cancel()

	require.NoError(t, s.backends[0].Peer.Notify(ctx, capability.MethodPublishDiagnostics,
		rawObj(t, map[string]any{"uri": "file:///a", "diagnostics": []any{}})))
	require.NoError(t, s.backends[1].Peer.Notify(ctx, capability.MethodPublishDiagnostics,
		rawObj(t, map[string]any{"uri": "file:///b", "diagnostics": []any{}})))

	got := drainNotifications(t, s.clientFake, 1, 500*time.Millisecond)
	require.Len(t, got, 1)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(got[0].Params, &parsed))
	assert.Equal(t, "file:///a", parsed["uri"])
}

// Both backends advertise codeActionProvider; results are merged in
// backend order.
func TestRouter_CodeActionMerging(t *testing.T) {
	t.Parallel()

	s := newSession(t,
		[]config.BackendConfig{{Cmd: "primary"}, {Cmd: "secondary"}},
		[]map[string]json.RawMessage{
			{
				"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{
					"codeActionProvider": true,
				}}),
				capability.MethodCodeAction: rawObj(t, []any{map[string]any{"title": "fix-from-primary"}}),
			},
			{
				"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{
					"codeActionProvider": true,
				}}),
				capability.MethodCodeAction: rawObj(t, []any{map[string]any{"title": "fix-from-secondary"}}),
			},
		},
	)
	s.initialize(t)

	ctx, cancel := callCtx()
	defer cancel()
	result, err := s.client.Call(ctx, capability.MethodCodeAction, map[string]any{})
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(result, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "fix-from-primary", got[0]["title"])
	assert.Equal(t, "fix-from-secondary", got[1]["title"])

	snapConfig.MatchStandaloneJSON(t, got)
}

// workspace/executeCommand routes to whichever backend advertised the
// command, not necessarily the primary.
func TestRouter_ExecuteCommandRoutesByCommand(t *testing.T) {
	t.Parallel()

	s := newSession(t,
		[]config.BackendConfig{{Cmd: "primary"}, {Cmd: "secondary"}},
		[]map[string]json.RawMessage{
			{"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{}})},
			{
				"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{
					"executeCommandProvider": map[string]any{"commands": []any{"lspmux.fixAll"}},
				}}),
				capability.MethodExecuteCommand: rawObj(t, "ok"),
			},
		},
	)
	s.initialize(t)

	ctx, cancel := callCtx()
	defer cancel()
	result, err := s.client.Call(ctx, capability.MethodExecuteCommand, map[string]any{"command": "lspmux.fixAll"})
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
}

// shutdown only responds to the client once every backend has acknowledged
// its own shutdown request.
func TestRouter_ShutdownSynchronization(t *testing.T) {
	t.Parallel()

	s := newSession(t,
		[]config.BackendConfig{{Cmd: "primary"}, {Cmd: "secondary"}},
		[]map[string]json.RawMessage{
			{
				"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{}}),
				"shutdown":   json.RawMessage("null"),
			},
			{
				"initialize": rawObj(t, map[string]any{"capabilities": map[string]any{}}),
				"shutdown":   json.RawMessage("null"),
			},
		},
	)
	s.initialize(t)

	ctx, cancel := callCtx()
	defer cancel()
	result, err := s.client.Call(ctx, "shutdown", nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(result))
	assert.Equal(t, StateShutdownAcked, s.router.State())
}

// drainNotifications blocks until n notifications have been observed by
// fake or the timeout elapses, returning whatever arrived.
func drainNotifications(t *testing.T, fake *lspmuxtest.FakeServer, n int, timeout time.Duration) []lspmuxtest.Received {
	t.Helper()
	var got []lspmuxtest.Received
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case r := <-fake.Inbox():
			got = append(got, r)
		case <-deadline:
			return got
		}
	}
	return got
}
