package connection

import (
	"context"

	"github.com/kinship-app/kinship/internal/frontend/model"
	"github.com/kinship-app/kinship/internal/frontend/query"
)

// Inbox lists the viewer's received requests. Accept and Reject go through
// the dispatcher, whose GraphChanged event invalidates the list.
type Inbox struct {
	svc        Service
	cache      *query.Client
	dispatcher *Dispatcher
}

func NewInbox(svc Service, cache *query.Client, d *Dispatcher) *Inbox {
	return &Inbox{svc: svc, cache: cache, dispatcher: d}
}

// Requests returns the pending requests, from cache while valid.
func (in *Inbox) Requests(ctx context.Context) ([]model.PendingRequest, error) {
	return query.Fetch(ctx, in.cache, RequestsKey, in.svc.ListConnectionRequests)
}

// State snapshots the requests query.
func (in *Inbox) State() query.State[[]model.PendingRequest] {
	return query.GetState[[]model.PendingRequest](in.cache, RequestsKey)
}

// Observe calls fn whenever the requests query changes.
func (in *Inbox) Observe(fn func()) (unsubscribe func()) {
	return in.cache.Observe(RequestsKey, func(query.Key) { fn() })
}

func (in *Inbox) Accept(ctx context.Context, requestID string) error {
	return in.dispatcher.AcceptRequest(ctx, requestID)
}

func (in *Inbox) Reject(ctx context.Context, requestID string) error {
	return in.dispatcher.RejectRequest(ctx, requestID)
}
