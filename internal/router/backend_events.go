package router

import (
	"context"
	"encoding/json"

	"github.com/wharflab/lspmux/internal/backend"
	"github.com/wharflab/lspmux/internal/capability"
	"github.com/wharflab/lspmux/internal/transport"
)

// handleBackend dispatches one backend-originated notification or request
// (spec.md §4.4, "Backend → Proxy" event classes). Backend → Proxy
// *responses* need no handling here: they complete the matching Call/Await
// inside the Router's own fan-out goroutines, driven by
// golang.org/x/exp/jsonrpc2's own id correlation.
func (r *Router) handleBackend(ctx context.Context, from *backend.Backend, req *transport.Request) (any, error) {
	isNotification := !req.ID.IsValid()

	if isNotification {
		r.handleBackendNotification(ctx, from, req)
		return nil, nil //nolint:nilnil
	}
	return r.handleBackendRequest(ctx, from, req)
}

// handleBackendNotification implements spec.md §4.4, "Backend → Proxy,
// notification": diagnostics are filtered per-backend, everything else
// passes through unchanged.
func (r *Router) handleBackendNotification(ctx context.Context, from *backend.Backend, req *transport.Request) {
	if req.Method == capability.MethodPublishDiagnostics {
		r.handleDiagnostics(ctx, from, req.Params)
		return
	}
	if r.client == nil {
		return
	}
	if err := r.client.Notify(ctx, req.Method, json.RawMessage(req.Params)); err != nil {
		r.log.Warnf("forward notification %s from %s: %v", req.Method, from.Name, err)
	}
}

// handleDiagnostics implements the Diagnostics Tracker (spec.md §3): drop
// publications from a backend configured with useDiagnostics=false, and
// otherwise forward each backend's publication unchanged.
func (r *Router) handleDiagnostics(ctx context.Context, from *backend.Backend, params json.RawMessage) {
	var parsed struct {
		URI string `json:"uri"`
	}
	_ = json.Unmarshal(params, &parsed)

	r.mu.Lock()
	r.diagnostics[diagKey{uri: parsed.URI, backend: from.Name}] = params
	r.mu.Unlock()

	if !from.Config.DiagnosticsEnabled() {
		return
	}
	if r.client == nil {
		return
	}
	if err := r.client.Notify(ctx, capability.MethodPublishDiagnostics, params); err != nil {
		r.log.Warnf("forward diagnostics from %s: %v", from.Name, err)
	}
}

// handleBackendRequest implements spec.md §4.4, "Backend → Proxy, request
// (server-initiated)": the call is forwarded to the client connection,
// whose own id space and Call/Await correlation stand in for the proxy-
// minted id table spec.md §4.4.5 describes; this Handler's return value is
// written back to the originating backend using its own request id,
// automatically routing the client's answer home.
func (r *Router) handleBackendRequest(ctx context.Context, from *backend.Backend, req *transport.Request) (any, error) {
	if r.client == nil {
		return nil, transport.NewError(transport.ErrCodeInternal, "client not connected")
	}
	raw, err := r.client.Call(ctx, req.Method, json.RawMessage(req.Params))
	if err != nil {
		r.log.Warnf("server-initiated request %s from %s failed: %v", req.Method, from.Name, err)
		return nil, err
	}
	return raw, nil
}
