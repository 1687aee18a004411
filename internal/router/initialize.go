package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wharflab/lspmux/internal/backend"
	"github.com/wharflab/lspmux/internal/capability"
	"github.com/wharflab/lspmux/internal/transport"
)

// routableMethods lists the methods the Routing Resolver (§4.4.1) computes
// a single target for, excluding workspace/executeCommand which resolves
// per-command instead.
var routableMethods = []string{
	capability.MethodCompletion,
	capability.MethodCompletionResolve,
	capability.MethodSignatureHelp,
	capability.MethodFormatting,
	capability.MethodRangeFormatting,
}

// providerFieldFor names the `initialize` result capability field copied
// during synthesis for a routable method (spec.md §4.4.3).
var providerFieldFor = map[string]string{
	capability.MethodCompletion:      "completionProvider",
	capability.MethodSignatureHelp:   "signatureHelpProvider",
	capability.MethodFormatting:      "documentFormattingProvider",
	capability.MethodRangeFormatting: "documentRangeFormattingProvider",
}

// handleInitialize implements the `initialize` special case of spec.md
// §4.4 ("Client → Proxy, request") and drives it to completion before
// returning, since the Lifecycle Coordinator requires the response be
// synthesized only once every backend has replied (spec.md §4.5).
func (r *Router) handleInitialize(ctx context.Context, req *transport.Request) (any, error) {
	r.setState(StateInitializing)

	if r.settings.InitializeTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.settings.InitializeTimeoutSeconds)*time.Second)
		defer cancel()
	}

	var clientParams map[string]json.RawMessage
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &clientParams); err != nil {
			r.setState(StateExited)
			return nil, transport.NewError(transport.ErrCodeInvalidParams, "invalid initialize params: "+err.Error())
		}
	}

	type initResult struct {
		backend *backend.Backend
		raw     json.RawMessage
		err     error
	}
	results := make([]initResult, len(r.backends))

	var wg sync.WaitGroup
	for i, b := range r.backends {
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			params := r.buildBackendInitializeParams(clientParams, b)
			raw, err := b.Initialize(ctx, params)
			results[i] = initResult{backend: b, raw: raw, err: err}
		}()
	}
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			r.setState(StateExited)
			return nil, transport.NewError(transport.ErrCodeInternal,
				fmt.Sprintf("backend %s failed to initialize: %v", res.backend.Name, res.err))
		}
	}

	r.resolveRouting()

	merged, err := r.synthesizeInitializeResult(results[0].raw)
	if err != nil {
		r.setState(StateExited)
		return nil, transport.NewError(transport.ErrCodeInternal, "synthesize initialize result: "+err.Error())
	}

	r.setState(StateRunning)
	return json.RawMessage(merged), nil
}

// jsonNull is an explicit JSON null, used where the initializationOptions
// policy (spec.md §4.4.2) calls for a literal null rather than an absent key.
var jsonNull = json.RawMessage("null")

// buildBackendInitializeParams applies the initializationOptions policy
// (spec.md §4.4.2) to one backend's copy of the client's initialize params:
// a configured value (including an explicit empty object) always wins;
// otherwise the primary gets the client's value and everyone else gets null.
func (r *Router) buildBackendInitializeParams(clientParams map[string]json.RawMessage, b *backend.Backend) json.RawMessage {
	out := make(map[string]json.RawMessage, len(clientParams)+1)
	for k, v := range clientParams {
		out[k] = v
	}

	switch {
	case isJSONValueSet(b.Config.InitializationOptions):
		out["initializationOptions"] = b.Config.InitializationOptions
	case b == r.primary:
		// leaves the client-supplied value (if any) untouched
	default:
		out["initializationOptions"] = jsonNull
	}

	raw, _ := json.Marshal(out)
	return raw
}

// isJSONValueSet reports whether raw is a present, non-null JSON value.
func isJSONValueSet(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// resolveRouting computes the Routing Table entries (spec.md §4.4.1) for
// every routable method plus the codeAction backend set, once, right after
// `initialize` completes.
func (r *Router) resolveRouting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolvedOnce {
		return
	}
	r.resolvedOnce = true

	for _, method := range routableMethods {
		r.resolved[method] = r.resolveMethod(method)
	}

	for _, b := range r.backends {
		if b.Capabilities().Supports(capability.MethodCodeAction) {
			r.codeActionBackends = append(r.codeActionBackends, b)
		}
	}

	for _, b := range r.backends {
		for _, cmd := range b.Capabilities().ExecuteCommandCommands() {
			if _, ok := r.commandBackend[cmd]; !ok {
				r.commandBackend[cmd] = r.resolveCommand(cmd)
			}
		}
	}
}

// resolveMethod applies the four-step Routing Resolver (spec.md §4.4.1) for
// a method outside workspace/executeCommand.
func (r *Router) resolveMethod(method string) *backend.Backend {
	if b := r.firstWithPreferenceFlag(method); b != nil {
		return b
	}
	if r.primary.Capabilities().Supports(method) {
		return r.primary
	}
	for _, b := range r.backends {
		if b.Capabilities().Supports(method) {
			return b
		}
	}
	return r.primary
}

// resolveCommand applies the same resolver, keyed on command-name
// membership in executeCommandProvider.commands (spec.md §4.4.1).
func (r *Router) resolveCommand(command string) *backend.Backend {
	for _, b := range r.backends {
		if b.Config.UseExecuteCommand && b.Capabilities().ExecuteCommandSupports(command) {
			return b
		}
	}
	if r.primary.Capabilities().ExecuteCommandSupports(command) {
		return r.primary
	}
	for _, b := range r.backends {
		if b.Capabilities().ExecuteCommandSupports(command) {
			return b
		}
	}
	return r.primary
}

func (r *Router) firstWithPreferenceFlag(method string) *backend.Backend {
	for _, b := range r.backends {
		if !preferenceFlag(b, method) {
			continue
		}
		if b.Capabilities().Supports(method) {
			return b
		}
	}
	return nil
}

func preferenceFlag(b *backend.Backend, method string) bool {
	switch method {
	case capability.MethodCompletion, capability.MethodCompletionResolve:
		return b.Config.UseCompletion
	case capability.MethodSignatureHelp:
		return b.Config.UseSignatureHelp
	case capability.MethodFormatting, capability.MethodRangeFormatting:
		return b.Config.UseFormatting
	default:
		return false
	}
}

// synthesizeInitializeResult builds the client-facing `initialize` result
// from the primary's result plus provider fields from non-primary resolved
// backends and the merged executeCommand command list (spec.md §4.4.3).
func (r *Router) synthesizeInitializeResult(primaryRaw json.RawMessage) (json.RawMessage, error) {
	var result map[string]json.RawMessage
	if err := json.Unmarshal(primaryRaw, &result); err != nil {
		return nil, err
	}
	var caps map[string]json.RawMessage
	if raw, ok := result["capabilities"]; ok {
		if err := json.Unmarshal(raw, &caps); err != nil {
			return nil, err
		}
	}
	if caps == nil {
		caps = make(map[string]json.RawMessage)
	}

	for method, field := range providerFieldFor {
		target := r.resolved[method]
		if target == nil || target == r.primary {
			continue
		}
		if v, ok := target.Capabilities().Field(field); ok {
			caps[field] = v
		} else {
			delete(caps, field)
		}
	}

	if cmds := r.mergedExecuteCommandCommands(); len(cmds) > 0 {
		opts := map[string]any{"commands": cmds}
		if raw, ok := caps["executeCommandProvider"]; ok {
			var existing map[string]json.RawMessage
			if err := json.Unmarshal(raw, &existing); err == nil {
				for k, v := range existing {
					if k == "commands" {
						continue
					}
					opts[k] = json.RawMessage(v)
				}
			}
		}
		marshaled, err := json.Marshal(opts)
		if err != nil {
			return nil, err
		}
		caps["executeCommandProvider"] = marshaled
	}

	marshaledCaps, err := json.Marshal(caps)
	if err != nil {
		return nil, err
	}
	result["capabilities"] = marshaledCaps

	return json.Marshal(result)
}

// mergedExecuteCommandCommands returns the order-preserving deduplicated
// union of every backend's advertised commands, primary first (spec.md
// §4.4.3, Testable Property 7).
func (r *Router) mergedExecuteCommandCommands() []string {
	seen := make(map[string]bool)
	var merged []string
	for _, b := range r.backends {
		for _, cmd := range b.Capabilities().ExecuteCommandCommands() {
			if seen[cmd] {
				continue
			}
			seen[cmd] = true
			merged = append(merged, cmd)
		}
	}
	return merged
}

// handleShutdown implements the `shutdown` special case (spec.md §4.4,
// §4.5): broadcast to every backend and respond only once all have replied.
func (r *Router) handleShutdown(ctx context.Context, _ *transport.Request) (any, error) {
	r.setState(StateShuttingDown)

	var wg sync.WaitGroup
	for _, b := range r.backends {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Shutdown(ctx); err != nil {
				r.log.Warnf("shutdown %s: %v", b.Name, err)
			}
		}()
	}
	wg.Wait()

	r.setState(StateShutdownAcked)
	return nil, nil //nolint:nilnil // LSP: shutdown result is null
}
