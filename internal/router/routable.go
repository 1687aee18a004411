package router

import (
	"context"
	"encoding/json"

	"github.com/wharflab/lspmux/internal/backend"
	"github.com/wharflab/lspmux/internal/capability"
	"github.com/wharflab/lspmux/internal/transport"
)

// handleRoutable implements spec.md §4.4, "Methods in the routable set":
// resolve the single target backend and forward, translating the response
// back unchanged.
func (r *Router) handleRoutable(ctx context.Context, req *transport.Request) (any, error) {
	target, err := r.targetFor(req.Method, req.Params)
	if err != nil {
		return nil, err
	}
	return r.forwardToOne(ctx, target, req.ID, req.Method, req.Params)
}

// targetFor resolves the single backend a routable request should go to,
// consulting the per-command cache for workspace/executeCommand (spec.md
// §4.4.1) and the per-method cache for everything else.
func (r *Router) targetFor(method string, params json.RawMessage) (*backend.Backend, error) {
	if method == capability.MethodExecuteCommand {
		cmd, err := executeCommandName(params)
		if err != nil {
			return nil, transport.NewError(transport.ErrCodeInvalidParams, err.Error())
		}
		r.mu.Lock()
		target, ok := r.commandBackend[cmd]
		if !ok {
			target = r.resolveCommand(cmd)
			r.commandBackend[cmd] = target
		}
		r.mu.Unlock()
		return target, nil
	}

	r.mu.Lock()
	target, ok := r.resolved[method]
	r.mu.Unlock()
	if !ok || target == nil {
		return r.primary, nil
	}
	return target, nil
}

func executeCommandName(params json.RawMessage) (string, error) {
	var p struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", err
	}
	return p.Command, nil
}

// handleDidChangeConfiguration implements the initializationOptions-style
// substitution spec.md §4.4.2 extends to workspace/didChangeConfiguration:
// a backend with a configured initializationOptions value gets it in place
// of `settings`; the primary gets the client's value when none is
// configured, everyone else gets null.
func (r *Router) handleDidChangeConfiguration(ctx context.Context, params json.RawMessage) {
	var clientParams map[string]json.RawMessage
	if len(params) > 0 {
		_ = json.Unmarshal(params, &clientParams)
	}

	for _, b := range r.backends {
		if !b.Initialized() {
			continue
		}
		out := make(map[string]json.RawMessage, len(clientParams)+1)
		for k, v := range clientParams {
			out[k] = v
		}
		switch {
		case isJSONValueSet(b.Config.InitializationOptions):
			out["settings"] = b.Config.InitializationOptions
		case b == r.primary:
			// leaves the client-supplied settings value untouched
		default:
			out["settings"] = jsonNull
		}

		payload, err := json.Marshal(out)
		if err != nil {
			continue
		}
		b.Enqueue(ctx, "workspace/didChangeConfiguration", payload)
	}
}
