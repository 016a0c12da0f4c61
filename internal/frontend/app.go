// Package frontend composes the headless views of the kinship client around
// one query cache and one event bus.
package frontend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kinship-app/kinship/internal/frontend/connection"
	"github.com/kinship-app/kinship/internal/frontend/events"
	"github.com/kinship-app/kinship/internal/frontend/login"
	"github.com/kinship-app/kinship/internal/frontend/model"
	"github.com/kinship-app/kinship/internal/frontend/notify"
	"github.com/kinship-app/kinship/internal/frontend/profile"
	"github.com/kinship-app/kinship/internal/frontend/query"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// ConnectionService is the connection API.
type ConnectionService = connection.Service

// AuthService is the session API.
type AuthService interface {
	Login(ctx context.Context, creds model.Credentials) (*model.Session, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*model.User, error)
}

// ProfileService is the profile API.
type ProfileService interface {
	GetProfile(ctx context.Context, username string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, upd model.ProfileUpdate) (*model.Profile, error)
}

// Options tune an App. The zero value is usable.
type Options struct {
	StaleTime     time.Duration
	MaxImageBytes int
	Notifier      notify.Notifier
	Log           *slog.Logger
}

// App owns the process-wide cache and bus and builds views on them.
type App struct {
	conns    ConnectionService
	auth     AuthService
	profiles ProfileService
	opts     Options
	log      *slog.Logger

	Cache      *query.Client
	Bus        *events.Bus
	Notifier   notify.Notifier
	Dispatcher *connection.Dispatcher
	Inbox      *connection.Inbox

	closeOnce sync.Once
	unsubs    []func()
}

func New(conns ConnectionService, auth AuthService, profiles ProfileService, opts Options) *App {
	log := logutil.NoopIfNil(opts.Log)
	n := opts.Notifier
	if n == nil {
		n = notify.Discard
	}
	a := &App{
		conns:    conns,
		auth:     auth,
		profiles: profiles,
		opts:     opts,
		log:      log,
		Cache:    query.New(query.WithStaleTime(opts.StaleTime)),
		Bus:      events.NewBus(),
		Notifier: n,
	}
	a.Dispatcher = connection.NewDispatcher(conns, n, a.Bus, log)
	a.Inbox = connection.NewInbox(conns, a.Cache, a.Dispatcher)

	// Registered before any header exists, so a header's own status
	// refetch always runs after this invalidation.
	a.unsubs = append(a.unsubs,
		events.Subscribe(a.Bus, a.onGraphChanged),
		events.Subscribe(a.Bus, a.onSessionChanged),
	)
	return a
}

func (a *App) onGraphChanged(e events.GraphChanged) {
	n := a.Cache.Invalidate(connection.RequestsKey)
	n += a.Cache.Invalidate(connection.StatusPrefix)
	a.log.Debug("connection graph changed", "action", e.Action, "invalidated", n)
}

func (a *App) onSessionChanged(e events.SessionChanged) {
	if !e.LoggedIn {
		a.Cache.Reset()
	}
}

// LoginForm returns a new login form bound to the app.
func (a *App) LoginForm() *login.Form {
	return login.NewForm(a.auth, a.Cache, a.Bus, a.Notifier, a.log)
}

// CurrentUser returns the signed-in user, from cache while valid.
func (a *App) CurrentUser(ctx context.Context) (*model.User, error) {
	return query.Fetch(ctx, a.Cache, login.AuthUserKey, a.auth.Me)
}

// Logout ends the session and tears the cache down, even when the server
// call fails.
func (a *App) Logout(ctx context.Context) error {
	err := a.auth.Logout(ctx)
	events.Publish(a.Bus, events.SessionChanged{LoggedIn: false})
	return err
}

// Header builds the header for username as seen by the current user and
// loads its data. The caller closes it.
func (a *App) Header(ctx context.Context, username string) (*profile.Header, error) {
	viewer, err := a.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	h := profile.New(profile.Config{
		Username:      username,
		Viewer:        viewer,
		Cache:         a.Cache,
		Profiles:      a.profiles,
		Connections:   a.conns,
		Dispatcher:    a.Dispatcher,
		Bus:           a.Bus,
		OnSave:        a.saveProfile(username),
		MaxImageBytes: a.opts.MaxImageBytes,
		Log:           a.log,
	})
	if err := h.Load(ctx); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (a *App) saveProfile(username string) profile.SaveFunc {
	return func(ctx context.Context, upd model.ProfileUpdate) error {
		p, err := a.profiles.UpdateProfile(ctx, upd)
		if err != nil {
			return err
		}
		query.SetData(a.Cache, profile.ProfileKey(username), p)
		a.Cache.Invalidate(login.AuthUserKey)
		return nil
	}
}

// Close releases the cache and bus subscriptions.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for _, un := range a.unsubs {
			un()
		}
		a.Cache.Close()
	})
}
