package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/cache"
	"github.com/kinship-app/kinship/internal/platform/logutil"
	"github.com/kinship-app/kinship/internal/platform/metrics"
)

// Action names used in logs and metrics.
const (
	ActionSend   = "send"
	ActionAccept = "accept"
	ActionReject = "reject"
	ActionRemove = "remove"
)

// ReceivedRequest is a pending request with its sender resolved.
type ReceivedRequest struct {
	ID        string           `json:"id"`
	Sender    identity.Summary `json:"sender"`
	Status    RequestStatus    `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Service applies the connection rules on top of a Repository.
type Service struct {
	repo      Repository
	users     identity.PartyRepo
	cache     cache.CacheWithCounter
	statusTTL time.Duration
	metrics   *metrics.Registry
	log       *slog.Logger
	now       func() time.Time
}

// ServiceDeps bundles the collaborators. Cache and Metrics may be nil.
type ServiceDeps struct {
	Repo      Repository
	Users     identity.PartyRepo
	Cache     cache.CacheWithCounter
	StatusTTL time.Duration
	Metrics   *metrics.Registry
	Log       *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	ttl := d.StatusTTL
	if ttl <= 0 {
		ttl = cache.TTLConnectionStatus
	}
	return &Service{
		repo:      d.Repo,
		users:     d.Users,
		cache:     d.Cache,
		statusTTL: ttl,
		metrics:   d.Metrics,
		log:       logutil.NoopIfNil(d.Log),
		now:       time.Now,
	}
}

// Status resolves how viewer relates to target.
func (s *Service) Status(ctx context.Context, viewerID, targetID string) (StatusRecord, error) {
	gen := s.generation(ctx, viewerID, targetID)
	if rec, ok := s.cachedStatus(ctx, viewerID, targetID, gen); ok {
		return rec, nil
	}

	// gen is read before the repository so a mutation that lands while the
	// status is computed bumps it and the write below is never served.
	rec, err := s.computeStatus(ctx, viewerID, targetID)
	if err != nil {
		return StatusRecord{}, err
	}
	s.storeStatus(ctx, viewerID, targetID, gen, rec)
	return rec, nil
}

func (s *Service) computeStatus(ctx context.Context, viewerID, targetID string) (StatusRecord, error) {
	connected, err := s.repo.AreConnected(ctx, viewerID, targetID)
	if err != nil {
		return StatusRecord{}, err
	}
	if connected {
		return StatusRecord{Status: StatusConnected}, nil
	}

	sent, err := s.repo.FindPending(ctx, viewerID, targetID)
	switch {
	case err == nil:
		return StatusRecord{Status: StatusPending, RequestID: sent.ID}, nil
	case !errors.Is(err, ErrRequestNotFound):
		return StatusRecord{}, err
	}

	received, err := s.repo.FindPending(ctx, targetID, viewerID)
	switch {
	case err == nil:
		return StatusRecord{Status: StatusReceived, RequestID: received.ID}, nil
	case !errors.Is(err, ErrRequestNotFound):
		return StatusRecord{}, err
	}

	return StatusRecord{Status: StatusNotConnected}, nil
}

// Send creates a pending request from viewer to target.
func (s *Service) Send(ctx context.Context, viewerID, targetID string) (req *Request, err error) {
	defer func() { s.record(ctx, ActionSend, err, "target_id", targetID) }()

	if viewerID == targetID {
		return nil, ErrSelfRequest
	}
	if _, err := s.users.Get(ctx, targetID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	connected, err := s.repo.AreConnected(ctx, viewerID, targetID)
	if err != nil {
		return nil, err
	}
	if connected {
		return nil, ErrAlreadyConnected
	}

	now := s.now()
	req = &Request{
		ID:          identity.NewID(),
		SenderID:    viewerID,
		RecipientID: targetID,
		Status:      RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// A pending request in either direction blocks a new one.
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, ErrRequestExists) {
			return nil, ErrRequestExists
		}
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.invalidate(ctx, viewerID, targetID)
	return req, nil
}

// Accept accepts a request addressed to viewer and connects the two users.
func (s *Service) Accept(ctx context.Context, viewerID, requestID string) (err error) {
	defer func() { s.record(ctx, ActionAccept, err, "request_id", requestID) }()
	return s.resolve(ctx, viewerID, requestID, RequestAccepted)
}

// Reject rejects a request addressed to viewer.
func (s *Service) Reject(ctx context.Context, viewerID, requestID string) (err error) {
	defer func() { s.record(ctx, ActionReject, err, "request_id", requestID) }()
	return s.resolve(ctx, viewerID, requestID, RequestRejected)
}

func (s *Service) resolve(ctx context.Context, viewerID, requestID string, to RequestStatus) error {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	// Only the recipient may resolve; anyone else sees no such request.
	if req.RecipientID != viewerID {
		return ErrRequestNotFound
	}
	if req.Status != RequestPending {
		return ErrRequestProcessed
	}
	if _, err := s.repo.Resolve(ctx, requestID, to); err != nil {
		return err
	}
	s.invalidate(ctx, req.SenderID, req.RecipientID)
	return nil
}

// Remove deletes the connection between viewer and target.
func (s *Service) Remove(ctx context.Context, viewerID, targetID string) (err error) {
	defer func() { s.record(ctx, ActionRemove, err, "target_id", targetID) }()

	removed, err := s.repo.Disconnect(ctx, viewerID, targetID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotConnected
	}
	s.invalidate(ctx, viewerID, targetID)
	return nil
}

// ListReceived returns pending requests addressed to viewer, newest first.
// Requests whose sender no longer exists are skipped.
func (s *Service) ListReceived(ctx context.Context, viewerID string) ([]ReceivedRequest, error) {
	reqs, err := s.repo.ListPending(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	out := make([]ReceivedRequest, 0, len(reqs))
	for _, r := range reqs {
		sender, err := s.users.Get(ctx, r.SenderID)
		if errors.Is(err, identity.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ReceivedRequest{
			ID:        r.ID,
			Sender:    sender.Summary(),
			Status:    r.Status,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// ConnectionsOf returns the IDs connected to userID.
func (s *Service) ConnectionsOf(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ConnectionsOf(ctx, userID)
}

// statusGenTTL is the lifetime of a pair's generation counter. It is far
// longer than any cached status.
const statusGenTTL = 24 * time.Hour

func statusKey(viewerID, targetID string) string {
	return "connstatus:" + viewerID + ":" + targetID
}

func generationKey(a, b string) string {
	x, y := pair(a, b)
	return "connstatus:gen:" + x + ":" + y
}

// cachedEntry tags a status with the pair generation it was computed under.
type cachedEntry struct {
	Gen    int64        `json:"gen"`
	Record StatusRecord `json:"record"`
}

// generation returns the mutation counter of a pair, or -1 when the cache
// cannot answer and nothing should be cached.
func (s *Service) generation(ctx context.Context, a, b string) int64 {
	if s.cache == nil {
		return -1
	}
	n, err := s.cache.GetCount(ctx, generationKey(a, b))
	if err != nil {
		s.log.Warn("status generation read failed", "error", err)
		return -1
	}
	return n
}

func (s *Service) cachedStatus(ctx context.Context, viewerID, targetID string, gen int64) (StatusRecord, bool) {
	if gen < 0 {
		return StatusRecord{}, false
	}
	b, err := s.cache.Get(ctx, statusKey(viewerID, targetID))
	if err != nil {
		return StatusRecord{}, false
	}
	var e cachedEntry
	if err := json.Unmarshal(b, &e); err != nil || e.Gen != gen {
		return StatusRecord{}, false
	}
	return e.Record, true
}

func (s *Service) storeStatus(ctx context.Context, viewerID, targetID string, gen int64, rec StatusRecord) {
	if gen < 0 {
		return
	}
	b, _ := json.Marshal(cachedEntry{Gen: gen, Record: rec})
	if err := s.cache.Set(ctx, statusKey(viewerID, targetID), b, s.statusTTL); err != nil {
		s.log.Warn("status cache write failed", "error", err)
	}
}

// invalidate bumps the pair generation, which retires any status computed
// before the mutation, then drops both cached directions.
func (s *Service) invalidate(ctx context.Context, a, b string) {
	if s.cache == nil {
		return
	}
	if _, _, err := s.cache.Increment(ctx, generationKey(a, b), 1, statusGenTTL); err != nil {
		s.log.Warn("status generation bump failed", "error", err)
	}
	for _, k := range []string{statusKey(a, b), statusKey(b, a)} {
		if err := s.cache.Delete(ctx, k); err != nil {
			s.log.Warn("status cache invalidation failed", "key", k, "error", err)
		}
	}
}

func (s *Service) record(ctx context.Context, action string, err error, attrs ...any) {
	result := ResultOf(err)
	s.metrics.ConnectionAction(action, result)

	log := s.log.With(append([]any{"action", action, "result", result}, attrs...)...)
	if err != nil && result == "error" {
		log.ErrorContext(ctx, "connection action failed", "error", err)
		return
	}
	log.DebugContext(ctx, "connection action")
}

// ResultOf maps an action error to a short metric label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSelfRequest):
		return "self_request"
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrRequestNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrRequestExists),
		errors.Is(err, ErrRequestProcessed), errors.Is(err, ErrNotConnected):
		return "conflict"
	default:
		return "error"
	}
}
