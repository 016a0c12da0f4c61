package connection

import (
	"context"
	"log/slog"

	"github.com/kinship-app/kinship/internal/frontend/client"
	"github.com/kinship-app/kinship/internal/frontend/events"
	"github.com/kinship-app/kinship/internal/frontend/model"
	"github.com/kinship-app/kinship/internal/frontend/notify"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// Actions are the connection mutations.
type Actions interface {
	SendConnectionRequest(ctx context.Context, userID string) error
	AcceptRequest(ctx context.Context, requestID string) error
	RejectRequest(ctx context.Context, requestID string) error
	RemoveConnection(ctx context.Context, userID string) error
}

// Service is the full connection API.
type Service interface {
	Actions
	GetConnectionStatus(ctx context.Context, userID string) (model.StatusRecord, error)
	ListConnectionRequests(ctx context.Context) ([]model.PendingRequest, error)
}

// Toast texts.
const (
	MsgSent     = "Connection request sent successfully"
	MsgAccepted = "Connection request accepted"
	MsgRejected = "Connection request rejected"
	MsgRemoved  = "Connection removed"
	MsgFailed   = "An error occurred"
)

// Dispatcher runs one service call per action, reports the outcome as a
// toast and announces successful mutations on the bus.
type Dispatcher struct {
	svc    Actions
	notify notify.Notifier
	bus    *events.Bus
	log    *slog.Logger
}

func NewDispatcher(svc Actions, n notify.Notifier, bus *events.Bus, log *slog.Logger) *Dispatcher {
	if n == nil {
		n = notify.Discard
	}
	return &Dispatcher{svc: svc, notify: n, bus: bus, log: logutil.NoopIfNil(log)}
}

func (d *Dispatcher) SendConnectionRequest(ctx context.Context, userID string) error {
	return d.run(ctx, events.GraphChanged{UserID: userID, Action: events.ActionSend}, MsgSent,
		func() error { return d.svc.SendConnectionRequest(ctx, userID) })
}

func (d *Dispatcher) AcceptRequest(ctx context.Context, requestID string) error {
	return d.run(ctx, events.GraphChanged{RequestID: requestID, Action: events.ActionAccept}, MsgAccepted,
		func() error { return d.svc.AcceptRequest(ctx, requestID) })
}

func (d *Dispatcher) RejectRequest(ctx context.Context, requestID string) error {
	return d.run(ctx, events.GraphChanged{RequestID: requestID, Action: events.ActionReject}, MsgRejected,
		func() error { return d.svc.RejectRequest(ctx, requestID) })
}

func (d *Dispatcher) RemoveConnection(ctx context.Context, userID string) error {
	return d.run(ctx, events.GraphChanged{UserID: userID, Action: events.ActionRemove}, MsgRemoved,
		func() error { return d.svc.RemoveConnection(ctx, userID) })
}

func (d *Dispatcher) run(ctx context.Context, ev events.GraphChanged, okMsg string, call func() error) error {
	if err := call(); err != nil {
		msg := client.MessageOf(err)
		if msg == "" {
			msg = MsgFailed
		}
		d.log.DebugContext(ctx, "connection action failed", "action", ev.Action, "user_id", ev.UserID, "request_id", ev.RequestID, "error", err)
		d.notify.Error(msg)
		return err
	}
	d.notify.Success(okMsg)
	if d.bus != nil {
		events.Publish(d.bus, ev)
	}
	return nil
}
