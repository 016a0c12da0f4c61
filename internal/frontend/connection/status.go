// Package connection resolves how the viewer relates to another user and
// performs connection actions.
package connection

import (
	"slices"

	"github.com/kinship-app/kinship/internal/frontend/model"
	"github.com/kinship-app/kinship/internal/frontend/query"
)

// Query keys.
var RequestsKey = query.Key{"connectionRequests"}

const statusKeyName = "connectionStatus"

// StatusPrefix matches every status query.
var StatusPrefix = query.Key{statusKeyName}

// StatusKey is the status query for one target user.
func StatusKey(userID string) query.Key {
	return query.Key{statusKeyName, userID}
}

// Phase says how much is known about a status.
type Phase int

const (
	// PhaseUnknown: never queried, or the query failed.
	PhaseUnknown Phase = iota
	// PhaseLoading: the first fetch is in flight and nothing is known yet.
	PhaseLoading
	PhaseKnown
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseKnown:
		return "known"
	default:
		return "unknown"
	}
}

// Resolution is the effective status a renderer acts on.
// Status and RequestID are set only when Phase is PhaseKnown.
type Resolution struct {
	Phase     Phase
	Status    model.Status
	RequestID string
}

// Resolve combines the locally derived connected flag with the server's
// status query. The local flag wins.
func Resolve(isConnected bool, st query.State[model.StatusRecord]) Resolution {
	if isConnected {
		return Resolution{Phase: PhaseKnown, Status: model.StatusConnected}
	}
	if st.HasData {
		// A failed refetch keeps the last known answer.
		return Resolution{Phase: PhaseKnown, Status: st.Data.Status, RequestID: st.Data.RequestID}
	}
	if st.Status == query.StatusLoading {
		return Resolution{Phase: PhaseLoading}
	}
	return Resolution{Phase: PhaseUnknown}
}

// IsConnected reports whether viewerID is among the profile's connections.
func IsConnected(p *model.Profile, viewerID string) bool {
	if p == nil || viewerID == "" {
		return false
	}
	return slices.Contains(p.Connections, viewerID)
}
