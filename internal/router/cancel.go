package router

import (
	"context"
	"encoding/json"

	"github.com/wharflab/lspmux/internal/transport"
)

// clientPreempter intercepts `$/cancelRequest` before it reaches the normal
// Handler path, grounded on the teacher's cancelPreempter
// (internal/lspserver/server_test.go): cancellation cancels the local
// context of the in-flight Handler call for that id, which is what causes
// the blocked backend Await in forwardToOne/aggregate fan-out to return and
// forward `$/cancelRequest` onward (spec.md §5).
type clientPreempter struct {
	router *Router
}

func (p *clientPreempter) Preempt(_ context.Context, req *transport.Request) (any, error) {
	if req.Method != "$/cancelRequest" {
		return nil, transport.ErrNotHandled
	}

	var params struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, nil //nolint:nilnil // malformed cancelRequest is silently ignored
	}

	var id transport.ID
	if err := json.Unmarshal(params.ID, &id); err != nil {
		return nil, nil //nolint:nilnil // unrecognized id type is silently ignored
	}
	if !id.IsValid() {
		return nil, nil //nolint:nilnil
	}

	if p.router.client != nil {
		p.router.client.CancelLocal(id)
	}
	return nil, nil //nolint:nilnil // $/cancelRequest is a notification
}
