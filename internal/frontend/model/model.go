// Package model holds the records the frontend exchanges with the kinship API.
package model

import "time"

// Status is how the viewer relates to another user.
type Status string

const (
	StatusNotConnected Status = "not_connected"
	StatusPending      Status = "pending"
	StatusReceived     Status = "received"
	StatusConnected    Status = "connected"
)

// StatusRecord is the server's answer for one viewer/target pair.
// RequestID is meaningful for received, and reported for pending.
type StatusRecord struct {
	Status    Status `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

// User is the authenticated account.
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	Name           string `json:"name"`
	Headline       string `json:"headline"`
	Location       string `json:"location"`
	BannerImg      string `json:"bannerImg"`
	ProfilePicture string `json:"profilePicture"`
}

// Summary is the public subset embedded in requests.
type Summary struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	Headline       string `json:"headline"`
	ProfilePicture string `json:"profilePicture"`
}

// Profile is a user's public page. Connections holds user IDs; order is irrelevant.
type Profile struct {
	ID             string   `json:"id"`
	Username       string   `json:"username"`
	Name           string   `json:"name"`
	Headline       string   `json:"headline"`
	Location       string   `json:"location"`
	BannerImg      string   `json:"bannerImg"`
	ProfilePicture string   `json:"profilePicture"`
	Connections    []string `json:"connections"`
}

// ProfileUpdate is a partial profile change. Nil fields are left untouched.
type ProfileUpdate struct {
	Name           *string `json:"name,omitempty"`
	Headline       *string `json:"headline,omitempty"`
	Location       *string `json:"location,omitempty"`
	BannerImg      *string `json:"bannerImg,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
}

// RequestStatus is the lifecycle state of a connection request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// PendingRequest is a connection request received by the viewer.
type PendingRequest struct {
	ID        string        `json:"id"`
	Sender    Summary       `json:"sender"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Credentials are what the login form submits.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}
