// Package connections owns the connection graph: pending requests between
// users and the mutual connections they turn into.
package connections

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSelfRequest      = errors.New("cannot send a connection request to yourself")
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyConnected = errors.New("already connected")
	ErrRequestExists    = errors.New("connection request already exists")
	ErrRequestNotFound  = errors.New("connection request not found")
	ErrRequestProcessed = errors.New("connection request already processed")
	ErrNotConnected     = errors.New("not connected")
)

// Status is the relationship between a viewer and another user, seen from the viewer.
type Status string

const (
	StatusNotConnected Status = "not_connected"
	StatusPending      Status = "pending"  // viewer sent a request
	StatusReceived     Status = "received" // viewer received a request
	StatusConnected    Status = "connected"
)

// StatusRecord is the answer to "how am I related to this user".
// RequestID is set for pending and received.
type StatusRecord struct {
	Status    Status `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

// RequestStatus is the lifecycle state of a request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// Request is a connection request from Sender to Recipient.
type Request struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	RecipientID string        `json:"recipientId"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Repository stores requests and connections.
type Repository interface {
	// CreateRequest stores a new pending request. The check for an existing
	// pending request between the pair, in either direction, and the insert
	// happen as one step; ErrRequestExists reports a conflict.
	CreateRequest(ctx context.Context, req *Request) error

	// GetRequest returns ErrRequestNotFound for unknown IDs.
	GetRequest(ctx context.Context, id string) (*Request, error)

	// FindPending returns the pending request from sender to recipient, or ErrRequestNotFound.
	FindPending(ctx context.Context, senderID, recipientID string) (*Request, error)

	// ListPending returns pending requests addressed to recipient, newest first.
	ListPending(ctx context.Context, recipientID string) ([]*Request, error)

	// Resolve moves a pending request to `to`. Accepting also creates the
	// connection in the same step. Returns ErrRequestProcessed when the
	// request is no longer pending.
	Resolve(ctx context.Context, id string, to RequestStatus) (*Request, error)

	// Disconnect removes a connection and reports whether one existed.
	Disconnect(ctx context.Context, a, b string) (bool, error)

	// AreConnected reports whether a and b are connected.
	AreConnected(ctx context.Context, a, b string) (bool, error)

	// ConnectionsOf returns the IDs connected to userID.
	ConnectionsOf(ctx context.Context, userID string) ([]string, error)
}

// pair orders two IDs so a connection has a single key.
func pair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
