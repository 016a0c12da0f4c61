package connections_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kinship-app/kinship/internal/components/connections"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/cache/memory"
	"github.com/kinship-app/kinship/internal/platform/metrics"
)

type fixture struct {
	svc     *connections.Service
	users   map[string]string // username -> ID
	metrics *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, connections.NewMemoryRepo())
}

func newFixtureWithRepo(t *testing.T, repo connections.Repository) *fixture {
	t.Helper()
	ctx := context.Background()
	party := identity.NewMemoryPartyRepo()
	ids := map[string]string{}
	for _, name := range []string{"alice", "bob", "carol"} {
		u := &identity.User{Username: name, Name: strings.ToUpper(name[:1]) + name[1:], PasswordHash: "h"}
		if err := party.Create(ctx, u); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		ids[name] = u.ID
	}

	c := memory.New(time.Minute, 0)
	t.Cleanup(func() { c.Close() })
	m := metrics.New()

	svc := connections.NewService(connections.ServiceDeps{
		Repo:    repo,
		Users:   party,
		Cache:   c,
		Metrics: m,
	})
	return &fixture{svc: svc, users: ids, metrics: m}
}

func (f *fixture) status(t *testing.T, viewer, target string) connections.StatusRecord {
	t.Helper()
	rec, err := f.svc.Status(context.Background(), f.users[viewer], f.users[target])
	if err != nil {
		t.Fatalf("Status(%s,%s): %v", viewer, target, err)
	}
	return rec
}

func TestService_StatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]

	if got := f.status(t, "alice", "bob"); got.Status != connections.StatusNotConnected {
		t.Fatalf("initial status = %+v", got)
	}
	// Warm the reverse direction too so invalidation of both keys is exercised.
	_ = f.status(t, "bob", "alice")

	req, err := f.svc.Send(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := f.status(t, "alice", "bob"); got.Status != connections.StatusPending || got.RequestID != req.ID {
		t.Errorf("sender view = %+v, want pending %s", got, req.ID)
	}
	if got := f.status(t, "bob", "alice"); got.Status != connections.StatusReceived || got.RequestID != req.ID {
		t.Errorf("recipient view = %+v, want received %s", got, req.ID)
	}

	received, err := f.svc.ListReceived(ctx, bob)
	if err != nil {
		t.Fatalf("ListReceived: %v", err)
	}
	if len(received) != 1 || received[0].Sender.Username != "alice" || received[0].Sender.Name != "Alice" {
		t.Errorf("ListReceived = %+v", received)
	}

	if err := f.svc.Accept(ctx, bob, req.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		if got := f.status(t, pair[0], pair[1]); got.Status != connections.StatusConnected {
			t.Errorf("%s->%s after accept = %+v", pair[0], pair[1], got)
		}
	}
	ids, _ := f.svc.ConnectionsOf(ctx, alice)
	if len(ids) != 1 || ids[0] != bob {
		t.Errorf("ConnectionsOf(alice) = %v", ids)
	}

	if err := f.svc.Remove(ctx, alice, bob); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := f.status(t, "bob", "alice"); got.Status != connections.StatusNotConnected {
		t.Errorf("after remove = %+v", got)
	}
}

// hookRepo runs afterFindPending once the wrapped lookup has returned.
type hookRepo struct {
	connections.Repository
	afterFindPending func(senderID, recipientID string)
}

func (r *hookRepo) FindPending(ctx context.Context, senderID, recipientID string) (*connections.Request, error) {
	req, err := r.Repository.FindPending(ctx, senderID, recipientID)
	if h := r.afterFindPending; h != nil {
		h(senderID, recipientID)
	}
	return req, err
}

func TestService_StatusComputedDuringSendIsNotCached(t *testing.T) {
	repo := &hookRepo{Repository: connections.NewMemoryRepo()}
	f := newFixtureWithRepo(t, repo)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]

	var sent *connections.Request
	repo.afterFindPending = func(senderID, recipientID string) {
		// Last lookup of Status(bob, alice): land the send right after it.
		if senderID != alice || recipientID != bob {
			return
		}
		repo.afterFindPending = nil
		req, err := f.svc.Send(ctx, alice, bob)
		if err != nil {
			t.Errorf("Send: %v", err)
		}
		sent = req
	}

	if got := f.status(t, "bob", "alice"); got.Status != connections.StatusNotConnected {
		t.Fatalf("racing status = %+v, want not_connected", got)
	}
	if sent == nil {
		t.Fatal("send did not run during the status lookup")
	}
	got := f.status(t, "bob", "alice")
	if got.Status != connections.StatusReceived || got.RequestID != sent.ID {
		t.Errorf("status after send = %+v, want received %s", got, sent.ID)
	}
}

func TestService_ConcurrentSendsCreateOneRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		conflict int
	)
	for i := 0; i < 8; i++ {
		from, to := alice, bob
		if i%2 == 1 {
			from, to = bob, alice
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(ctx, from, to)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, connections.ErrRequestExists):
				conflict++
			default:
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflict != 7 {
		t.Errorf("sends: %d ok, %d conflict; want 1 and 7", ok, conflict)
	}
	toBob, _ := f.svc.ListReceived(ctx, bob)
	toAlice, _ := f.svc.ListReceived(ctx, alice)
	if n := len(toBob) + len(toAlice); n != 1 {
		t.Errorf("pending requests = %d, want 1", n)
	}
}

func TestService_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]

	req, _ := f.svc.Send(ctx, alice, bob)
	if err := f.svc.Reject(ctx, bob, req.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got := f.status(t, "alice", "bob"); got.Status != connections.StatusNotConnected {
		t.Errorf("after reject = %+v", got)
	}
	// A rejected request does not block a new one.
	if _, err := f.svc.Send(ctx, alice, bob); err != nil {
		t.Errorf("re-send after reject: %v", err)
	}
}

func TestService_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.users["alice"], f.users["bob"], f.users["carol"]

	req, err := f.svc.Send(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"self request", func() error { _, err := f.svc.Send(ctx, alice, alice); return err }, connections.ErrSelfRequest},
		{"unknown target", func() error { _, err := f.svc.Send(ctx, alice, "ghost"); return err }, connections.ErrUserNotFound},
		{"duplicate request", func() error { _, err := f.svc.Send(ctx, alice, bob); return err }, connections.ErrRequestExists},
		{"reverse request while pending", func() error { _, err := f.svc.Send(ctx, bob, alice); return err }, connections.ErrRequestExists},
		{"accept by sender", func() error { return f.svc.Accept(ctx, alice, req.ID) }, connections.ErrRequestNotFound},
		{"accept by stranger", func() error { return f.svc.Accept(ctx, carol, req.ID) }, connections.ErrRequestNotFound},
		{"accept unknown", func() error { return f.svc.Accept(ctx, bob, "nope") }, connections.ErrRequestNotFound},
		{"remove non-connection", func() error { return f.svc.Remove(ctx, alice, carol) }, connections.ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if err := f.svc.Accept(ctx, bob, req.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := f.svc.Accept(ctx, bob, req.ID); !errors.Is(err, connections.ErrRequestProcessed) {
		t.Errorf("double accept: got %v, want ErrRequestProcessed", err)
	}
	if err := f.svc.Reject(ctx, bob, req.ID); !errors.Is(err, connections.ErrRequestProcessed) {
		t.Errorf("reject after accept: got %v, want ErrRequestProcessed", err)
	}
	if _, err := f.svc.Send(ctx, bob, alice); !errors.Is(err, connections.ErrAlreadyConnected) {
		t.Errorf("send to connection: got %v, want ErrAlreadyConnected", err)
	}
}

func TestService_Metrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]

	req, _ := f.svc.Send(ctx, alice, bob)
	_, _ = f.svc.Send(ctx, alice, alice)
	_ = f.svc.Accept(ctx, bob, req.ID)
	_ = f.svc.Accept(ctx, bob, req.ID)

	want := `
# HELP kinship_connection_actions_total Connection graph mutations by action and result.
# TYPE kinship_connection_actions_total counter
kinship_connection_actions_total{action="accept",result="conflict"} 1
kinship_connection_actions_total{action="accept",result="ok"} 1
kinship_connection_actions_total{action="send",result="ok"} 1
kinship_connection_actions_total{action="send",result="self_request"} 1
`
	if err := testutil.GatherAndCompare(f.metrics.Gatherer(), strings.NewReader(want), "kinship_connection_actions_total"); err != nil {
		t.Error(err)
	}
}

func TestResultOf(t *testing.T) {
	tests := map[error]string{
		nil:                             "ok",
		connections.ErrSelfRequest:      "self_request",
		connections.ErrUserNotFound:     "not_found",
		connections.ErrRequestProcessed: "conflict",
		errors.New("disk on fire"):      "error",
	}
	for err, want := range tests {
		if got := connections.ResultOf(err); got != want {
			t.Errorf("ResultOf(%v) = %q, want %q", err, got, want)
		}
	}
}
