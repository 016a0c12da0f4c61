// Package profile is the headless profile header: the profile card with its
// owner edit mode and the viewer's connection buttons.
package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/kinship-app/kinship/internal/frontend/connection"
	"github.com/kinship-app/kinship/internal/frontend/events"
	"github.com/kinship-app/kinship/internal/frontend/model"
	"github.com/kinship-app/kinship/internal/frontend/query"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

var (
	ErrNotOwner    = errors.New("only the owner can edit this profile")
	ErrNotEditing  = errors.New("profile is not in edit mode")
	ErrSaving      = errors.New("a save is already in progress")
	ErrInertAction = errors.New("action cannot be triggered")
)

// Default images shown when a profile has none.
const (
	DefaultBanner = "/banner.png"
	DefaultAvatar = "/avatar.png"
)

// ProfileKey is the query key of a user's profile.
func ProfileKey(username string) query.Key {
	return query.Key{"userProfile", username}
}

// Mode is the header's state.
type Mode int

const (
	ModeView Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "view"
}

// ProfileSource loads profiles.
type ProfileSource interface {
	GetProfile(ctx context.Context, username string) (*model.Profile, error)
}

// Config wires a Header.
type Config struct {
	Username string
	Viewer   *model.User

	Cache       *query.Client
	Profiles    ProfileSource
	Connections connection.Service
	Dispatcher  *connection.Dispatcher
	Bus         *events.Bus

	// OnSave persists the owner's changes.
	OnSave        SaveFunc
	MaxImageBytes int

	Log *slog.Logger
}

// Header is one rendered profile header. Methods are safe for concurrent use.
type Header struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	mode   Mode
	tx     *EditTransaction
	saving bool
	loaded bool

	unsubscribe func()
}

// New creates a header in view mode. Call Load to fetch its data and Close
// when it is no longer shown.
func New(cfg Config) *Header {
	h := &Header{cfg: cfg, log: logutil.NoopIfNil(cfg.Log).With("profile", cfg.Username)}
	if cfg.Bus != nil {
		h.unsubscribe = events.Subscribe(cfg.Bus, h.onGraphChanged)
	}
	return h
}

// Close stops listening for connection changes.
func (h *Header) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

// Own reports whether the viewer is looking at their own profile.
func (h *Header) Own() bool {
	return h.cfg.Viewer != nil && h.cfg.Viewer.Username == h.cfg.Username
}

// Load fetches the profile and, for someone else's profile, the viewer's
// connection status with them.
func (h *Header) Load(ctx context.Context) error {
	p, err := query.Fetch(ctx, h.cfg.Cache, ProfileKey(h.cfg.Username), func(ctx context.Context) (*model.Profile, error) {
		return h.cfg.Profiles.GetProfile(ctx, h.cfg.Username)
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.loaded = true
	h.mu.Unlock()

	if h.Own() {
		return nil
	}
	_, err = query.Fetch(ctx, h.cfg.Cache, connection.StatusKey(p.ID), func(ctx context.Context) (model.StatusRecord, error) {
		return h.cfg.Connections.GetConnectionStatus(ctx, p.ID)
	})
	return err
}

func (h *Header) profile() *model.Profile {
	return query.GetState[*model.Profile](h.cfg.Cache, ProfileKey(h.cfg.Username)).Data
}

// Resolution is the viewer's effective connection status with this profile.
func (h *Header) Resolution() connection.Resolution {
	p := h.profile()
	if p == nil {
		return connection.Resolution{Phase: connection.PhaseLoading}
	}
	viewerID := ""
	if h.cfg.Viewer != nil {
		viewerID = h.cfg.Viewer.ID
	}
	st := query.GetState[model.StatusRecord](h.cfg.Cache, connection.StatusKey(p.ID))
	return connection.Resolve(connection.IsConnected(p, viewerID), st)
}

func (h *Header) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// Edit enters edit mode with an empty buffer. It is a no-op when already editing.
func (h *Header) Edit() error {
	if !h.Own() {
		return ErrNotOwner
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mode == ModeEdit {
		return nil
	}
	h.mode = ModeEdit
	h.tx = newEditTransaction(h.cfg.OnSave, h.cfg.MaxImageBytes)
	return nil
}

// Set buffers a text field edit.
func (h *Header) Set(f Field, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mode != ModeEdit {
		return ErrNotEditing
	}
	if h.saving {
		return ErrSaving
	}
	return h.tx.Set(f, value)
}

// SetImage buffers an image read from r as a data URL.
func (h *Header) SetImage(f Field, r io.Reader) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mode != ModeEdit {
		return ErrNotEditing
	}
	if h.saving {
		return ErrSaving
	}
	return h.tx.SetImage(f, r)
}

// Save commits the buffer and returns to view mode. A failed save stays
// in edit mode with the buffer intact.
func (h *Header) Save(ctx context.Context) error {
	h.mu.Lock()
	if h.mode != ModeEdit {
		h.mu.Unlock()
		return ErrNotEditing
	}
	if h.saving {
		h.mu.Unlock()
		return ErrSaving
	}
	h.saving = true
	tx := h.tx
	h.mu.Unlock()

	// Set, SetImage and Cancel are refused while saving.
	err := tx.Commit(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.saving = false
	if err != nil {
		h.log.WarnContext(ctx, "profile save failed", "error", err)
		return err
	}
	h.mode = ModeView
	h.tx = nil
	return nil
}

// Cancel discards the buffer and returns to view mode.
func (h *Header) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mode != ModeEdit || h.saving {
		return
	}
	h.tx.Discard()
	h.tx = nil
	h.mode = ModeView
}

// Trigger performs the action of a rendered button.
func (h *Header) Trigger(ctx context.Context, a Action) error {
	if a.Disabled {
		return ErrInertAction
	}
	switch a.Kind {
	case ActionEdit:
		return h.Edit()
	case ActionSave:
		return h.Save(ctx)
	case ActionCancel:
		h.Cancel()
		return nil
	}

	p := h.profile()
	if p == nil || h.cfg.Dispatcher == nil {
		return ErrInertAction
	}
	switch a.Kind {
	case ActionConnect:
		return h.cfg.Dispatcher.SendConnectionRequest(ctx, p.ID)
	case ActionAccept:
		return h.cfg.Dispatcher.AcceptRequest(ctx, a.RequestID)
	case ActionReject:
		return h.cfg.Dispatcher.RejectRequest(ctx, a.RequestID)
	case ActionRemove:
		return h.cfg.Dispatcher.RemoveConnection(ctx, p.ID)
	}
	return ErrInertAction
}

// onGraphChanged refreshes the status when a mutation concerns this profile.
// Accepts and removals also change the connection list, so the profile is
// refreshed too.
func (h *Header) onGraphChanged(e events.GraphChanged) {
	h.mu.Lock()
	loaded := h.loaded
	h.mu.Unlock()
	p := h.profile()
	if !loaded || p == nil {
		return
	}

	own := h.Own()
	match := false
	if !own {
		match = e.UserID == p.ID
		if !match && e.RequestID != "" {
			match = h.Resolution().RequestID == e.RequestID
		}
	}
	if !match && !(own && (e.Action == events.ActionAccept || e.Action == events.ActionRemove)) {
		return
	}

	ctx := context.Background()
	if !own {
		if err := h.cfg.Cache.Refetch(ctx, connection.StatusKey(p.ID)); err != nil {
			h.log.Warn("connection status refresh failed", "error", err)
		}
	}
	if e.Action == events.ActionAccept || e.Action == events.ActionRemove {
		if err := h.cfg.Cache.Refetch(ctx, ProfileKey(h.cfg.Username)); err != nil {
			h.log.Warn("profile refresh failed", "error", err)
		}
	}
}
