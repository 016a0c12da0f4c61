package profile

import (
	"maps"

	"github.com/kinship-app/kinship/internal/frontend/connection"
	"github.com/kinship-app/kinship/internal/frontend/model"
)

// ActionKind identifies a header button.
type ActionKind string

const (
	ActionEdit      ActionKind = "edit"
	ActionSave      ActionKind = "save"
	ActionCancel    ActionKind = "cancel"
	ActionConnect   ActionKind = "connect"
	ActionAccept    ActionKind = "accept"
	ActionReject    ActionKind = "reject"
	ActionRemove    ActionKind = "remove"
	ActionPending   ActionKind = "pending"   // indicator
	ActionConnected ActionKind = "connected" // indicator
	ActionLoading   ActionKind = "loading"   // indicator
)

// Action is one rendered button. Disabled buttons are indicators.
type Action struct {
	Kind      ActionKind
	Label     string
	RequestID string
	Disabled  bool
}

// View is a render snapshot of the header.
type View struct {
	Mode     Mode
	Own      bool
	Loaded   bool
	Username string

	Name     string
	Headline string
	Location string

	BannerURL string
	AvatarURL string

	Connection connection.Resolution
	Actions    []Action
}

// View renders the current state. Buffered edits shadow profile values.
func (h *Header) View() View {
	p := h.profile()
	res := h.Resolution()

	h.mu.Lock()
	mode, saving := h.mode, h.saving
	var buffered map[Field]string
	if h.tx != nil {
		buffered = maps.Clone(h.tx.values)
	}
	h.mu.Unlock()

	value := func(f Field) string {
		if v, ok := buffered[f]; ok {
			return v
		}
		return fieldOf(p, f)
	}
	// Images fall back from the buffer to the profile, then to the default.
	image := func(f Field, def string) string {
		if v := buffered[f]; v != "" {
			return v
		}
		if v := fieldOf(p, f); v != "" {
			return v
		}
		return def
	}

	v := View{
		Mode:      mode,
		Own:       h.Own(),
		Loaded:    p != nil,
		Username:  h.cfg.Username,
		Name:      value(FieldName),
		Headline:  value(FieldHeadline),
		Location:  value(FieldLocation),
		BannerURL: image(FieldBannerImg, DefaultBanner),
		AvatarURL: image(FieldProfilePicture, DefaultAvatar),
	}
	if v.Own {
		if mode == ModeEdit {
			v.Actions = []Action{
				{Kind: ActionSave, Label: "Save Profile", Disabled: saving},
				{Kind: ActionCancel, Label: "Cancel", Disabled: saving},
			}
		} else {
			v.Actions = []Action{{Kind: ActionEdit, Label: "Edit Profile"}}
		}
		return v
	}
	v.Connection = res
	v.Actions = connectionActions(res)
	return v
}

func connectionActions(res connection.Resolution) []Action {
	switch res.Phase {
	case connection.PhaseLoading:
		return []Action{{Kind: ActionLoading, Label: "Loading", Disabled: true}}
	case connection.PhaseUnknown:
		return []Action{{Kind: ActionConnect, Label: "Connect"}}
	}
	switch res.Status {
	case model.StatusConnected:
		return []Action{
			{Kind: ActionConnected, Label: "Connected", Disabled: true},
			{Kind: ActionRemove, Label: "Remove Connection"},
		}
	case model.StatusPending:
		return []Action{{Kind: ActionPending, Label: "Pending", Disabled: true}}
	case model.StatusReceived:
		return []Action{
			{Kind: ActionAccept, Label: "Accept", RequestID: res.RequestID},
			{Kind: ActionReject, Label: "Reject", RequestID: res.RequestID},
		}
	default:
		return []Action{{Kind: ActionConnect, Label: "Connect"}}
	}
}
