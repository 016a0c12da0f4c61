// Package login is the headless login form.
package login

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/kinship-app/kinship/internal/frontend/client"
	"github.com/kinship-app/kinship/internal/frontend/events"
	"github.com/kinship-app/kinship/internal/frontend/model"
	"github.com/kinship-app/kinship/internal/frontend/notify"
	"github.com/kinship-app/kinship/internal/frontend/query"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

var (
	ErrSubmitting = errors.New("login already in progress")
	ErrIncomplete = errors.New("username and password are required")
)

// MsgFailed is shown when the server gives no reason.
const MsgFailed = "Something went wrong!"

// AuthUserKey is the query holding the signed-in user.
var AuthUserKey = query.Key{"authUser"}

// Authenticator performs the login call.
type Authenticator interface {
	Login(ctx context.Context, creds model.Credentials) (*model.Session, error)
}

// Form holds the typed credentials and the in-flight flag.
type Form struct {
	auth   Authenticator
	cache  *query.Client
	bus    *events.Bus
	notify notify.Notifier
	log    *slog.Logger

	mu         sync.Mutex
	creds      model.Credentials
	submitting bool
}

func NewForm(auth Authenticator, cache *query.Client, bus *events.Bus, n notify.Notifier, log *slog.Logger) *Form {
	if n == nil {
		n = notify.Discard
	}
	return &Form{auth: auth, cache: cache, bus: bus, notify: n, log: logutil.NoopIfNil(log)}
}

func (f *Form) SetUsername(s string) {
	f.mu.Lock()
	f.creds.Username = s
	f.mu.Unlock()
}

func (f *Form) SetPassword(s string) {
	f.mu.Lock()
	f.creds.Password = s
	f.mu.Unlock()
}

// Credentials returns the current field values.
func (f *Form) Credentials() model.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds
}

// Submitting reports whether a login request is outstanding.
func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// CanSubmit reports whether the submit button is enabled.
func (f *Form) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.submitting && strings.TrimSpace(f.creds.Username) != "" && f.creds.Password != ""
}

// Submit sends the credentials once. A call while another is outstanding
// returns ErrSubmitting without a request. Fields are kept on failure.
func (f *Form) Submit(ctx context.Context) (*model.Session, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return nil, ErrSubmitting
	}
	creds := f.creds
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		f.mu.Unlock()
		return nil, ErrIncomplete
	}
	f.submitting = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
	}()

	s, err := f.auth.Login(ctx, creds)
	if err != nil {
		msg := client.MessageOf(err)
		if msg == "" {
			msg = MsgFailed
		}
		f.log.WarnContext(ctx, "login failed", "username", creds.Username, "error", err)
		f.notify.Error(msg)
		return nil, err
	}

	f.log.InfoContext(ctx, "logged in", "user_id", s.User.ID)
	if f.cache != nil {
		f.cache.Invalidate(AuthUserKey)
	}
	if f.bus != nil {
		events.Publish(f.bus, events.SessionChanged{UserID: s.User.ID, LoggedIn: true})
	}
	return s, nil
}
