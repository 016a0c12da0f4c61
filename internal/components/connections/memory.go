package connections

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps the graph in memory.
type MemoryRepo struct {
	mu          sync.RWMutex
	requests    map[string]*Request
	connections map[[2]string]time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		requests:    make(map[string]*Request),
		connections: make(map[[2]string]time.Time),
	}
}

func (r *MemoryRepo) CreateRequest(ctx context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.requests {
		if other.Status == RequestPending && samePair(other, req) {
			return ErrRequestExists
		}
	}
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetRequest(ctx context.Context, id string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *MemoryRepo) FindPending(ctx context.Context, senderID, recipientID string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.requests {
		if req.Status == RequestPending && req.SenderID == senderID && req.RecipientID == recipientID {
			cp := *req
			return &cp, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (r *MemoryRepo) ListPending(ctx context.Context, recipientID string) ([]*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Request
	for _, req := range r.requests {
		if req.Status == RequestPending && req.RecipientID == recipientID {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) Resolve(ctx context.Context, id string, to RequestStatus) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != RequestPending {
		return nil, ErrRequestProcessed
	}
	now := time.Now()
	req.Status = to
	req.UpdatedAt = now
	if to == RequestAccepted {
		a, b := pair(req.SenderID, req.RecipientID)
		if _, exists := r.connections[[2]string{a, b}]; !exists {
			r.connections[[2]string{a, b}] = now
		}
	}
	cp := *req
	return &cp, nil
}

func (r *MemoryRepo) Disconnect(ctx context.Context, a, b string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	x, y := pair(a, b)
	key := [2]string{x, y}
	if _, ok := r.connections[key]; !ok {
		return false, nil
	}
	delete(r.connections, key)
	return true, nil
}

func (r *MemoryRepo) AreConnected(ctx context.Context, a, b string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	x, y := pair(a, b)
	_, ok := r.connections[[2]string{x, y}]
	return ok, nil
}

func (r *MemoryRepo) ConnectionsOf(ctx context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{}
	for k := range r.connections {
		switch userID {
		case k[0]:
			out = append(out, k[1])
		case k[1]:
			out = append(out, k[0])
		}
	}
	sort.Strings(out)
	return out, nil
}

func samePair(a, b *Request) bool {
	return (a.SenderID == b.SenderID && a.RecipientID == b.RecipientID) ||
		(a.SenderID == b.RecipientID && a.RecipientID == b.SenderID)
}

var _ Repository = (*MemoryRepo)(nil)
