package connections

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kinship-app/kinship/internal/platform/store"
	"github.com/kinship-app/kinship/internal/platform/store/sqlite"
)

// At most one pending request per direction; the reverse direction is
// checked inside the CreateRequest transaction.
type requestRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	SenderID    string `gorm:"index:idx_req_pair;uniqueIndex:idx_req_pending,where:status = 'pending';not null"`
	RecipientID string `gorm:"index:idx_req_pair;uniqueIndex:idx_req_pending,where:status = 'pending';index:idx_req_recipient;not null"`
	Status      string `gorm:"index:idx_req_recipient;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (requestRow) TableName() string { return "connection_requests" }

// connectionRow stores each connection once with UserA < UserB.
type connectionRow struct {
	UserA     string `gorm:"primaryKey;size:36"`
	UserB     string `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

func (connectionRow) TableName() string { return "connections" }

// Models returns the GORM models owned by this package, for migration.
func Models() []any { return []any{&requestRow{}, &connectionRow{}} }

func (row *requestRow) request() *Request {
	return &Request{
		ID:          row.ID,
		SenderID:    row.SenderID,
		RecipientID: row.RecipientID,
		Status:      RequestStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

// GormRepo stores the graph in SQLite.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

func (r *GormRepo) CreateRequest(ctx context.Context, req *Request) error {
	row := &requestRow{
		ID:          req.ID,
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&requestRow{}).
			Where("status = ? AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))",
				RequestPending, req.SenderID, req.RecipientID, req.RecipientID, req.SenderID).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrRequestExists
		}
		return sqlite.MapError(tx.Create(row).Error)
	})
	if errors.Is(err, store.ErrConflict) && req.Status == RequestPending {
		return ErrRequestExists
	}
	return err
}

func (r *GormRepo) GetRequest(ctx context.Context, id string) (*Request, error) {
	var row requestRow
	err := sqlite.MapError(r.db.WithContext(ctx).First(&row, "id = ?", id).Error)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.request(), nil
}

func (r *GormRepo) FindPending(ctx context.Context, senderID, recipientID string) (*Request, error) {
	var row requestRow
	err := sqlite.MapError(r.db.WithContext(ctx).
		Where("sender_id = ? AND recipient_id = ? AND status = ?", senderID, recipientID, RequestPending).
		First(&row).Error)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.request(), nil
}

func (r *GormRepo) ListPending(ctx context.Context, recipientID string) ([]*Request, error) {
	var rows []requestRow
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", recipientID, RequestPending).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*Request, len(rows))
	for i := range rows {
		out[i] = rows[i].request()
	}
	return out, nil
}

func (r *GormRepo) Resolve(ctx context.Context, id string, to RequestStatus) (*Request, error) {
	var resolved *Request
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row requestRow
		if err := sqlite.MapError(tx.First(&row, "id = ?", id).Error); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRequestNotFound
			}
			return err
		}

		// Conditional update: a concurrent resolver sees zero rows affected.
		now := time.Now()
		res := tx.Model(&requestRow{}).
			Where("id = ? AND status = ?", id, RequestPending).
			Updates(map[string]any{"status": string(to), "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRequestProcessed
		}

		if to == RequestAccepted {
			a, b := pair(row.SenderID, row.RecipientID)
			conn := &connectionRow{UserA: a, UserB: b, CreatedAt: now}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(conn).Error; err != nil {
				return err
			}
		}

		row.Status = string(to)
		row.UpdatedAt = now
		resolved = row.request()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *GormRepo) Disconnect(ctx context.Context, a, b string) (bool, error) {
	x, y := pair(a, b)
	res := r.db.WithContext(ctx).Delete(&connectionRow{}, "user_a = ? AND user_b = ?", x, y)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepo) AreConnected(ctx context.Context, a, b string) (bool, error) {
	x, y := pair(a, b)
	var n int64
	err := r.db.WithContext(ctx).Model(&connectionRow{}).
		Where("user_a = ? AND user_b = ?", x, y).Count(&n).Error
	return n > 0, err
}

func (r *GormRepo) ConnectionsOf(ctx context.Context, userID string) ([]string, error) {
	var rows []connectionRow
	err := r.db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.UserA == userID {
			out = append(out, row.UserB)
		} else {
			out = append(out, row.UserA)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ Repository = (*GormRepo)(nil)
