package router

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/wharflab/lspmux/internal/backend"
	"github.com/wharflab/lspmux/internal/transport"
)

// handleCodeAction implements spec.md §4.4's `textDocument/codeAction`
// special case and §4.4.4's merge rule: broadcast to every code-action-
// capable backend (cached at initialize) and concatenate their result
// arrays in configured order.
func (r *Router) handleCodeAction(ctx context.Context, req *transport.Request) (any, error) {
	r.mu.Lock()
	targets := append([]*backend.Backend(nil), r.codeActionBackends...)
	r.mu.Unlock()

	if len(targets) == 0 {
		return r.forwardToOne(ctx, r.primary, req.ID, req.Method, req.Params)
	}

	type partial struct {
		actions []json.RawMessage
		err     error
	}
	results := make([]partial, len(targets))

	var wg sync.WaitGroup
	for i, b := range targets {
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			call := b.Peer.CallAsync(ctx, req.Method, json.RawMessage(req.Params))
			raw, err := call.Await(ctx)
			if err != nil {
				if ctx.Err() != nil {
					_ = b.Peer.CancelRemote(context.Background(), call.ID())
				}
				results[i] = partial{err: err}
				return
			}
			var actions []json.RawMessage
			if len(raw) > 0 && string(raw) != "null" {
				_ = json.Unmarshal(raw, &actions)
			}
			results[i] = partial{actions: actions}
		}()
	}
	wg.Wait()

	var merged []json.RawMessage
	for _, res := range results {
		if res.err != nil {
			r.log.Warnf("codeAction backend error: %v", res.err)
			continue
		}
		merged = append(merged, res.actions...)
	}
	if merged == nil {
		merged = []json.RawMessage{}
	}

	return json.Marshal(merged)
}
