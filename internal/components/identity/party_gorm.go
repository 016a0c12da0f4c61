package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kinship-app/kinship/internal/platform/store"
	"github.com/kinship-app/kinship/internal/platform/store/sqlite"
)

// userRow is the users table.
type userRow struct {
	ID             string  `gorm:"primaryKey;size:36"`
	Username       string  `gorm:"uniqueIndex;not null"`
	Email          *string `gorm:"uniqueIndex"`
	Name           string
	Headline       string
	Location       string
	BannerImg      string
	ProfilePicture string
	PasswordHash   string `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (userRow) TableName() string { return "users" }

// Models returns the GORM models owned by this package, for migration.
func Models() []any { return []any{&userRow{}} }

func toRow(u *User) *userRow {
	row := &userRow{
		ID:             u.ID,
		Username:       u.Username,
		Name:           u.Name,
		Headline:       u.Headline,
		Location:       u.Location,
		BannerImg:      u.BannerImg,
		ProfilePicture: u.ProfilePicture,
		PasswordHash:   u.PasswordHash,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
	// NULL keeps the unique index from colliding on users without email.
	if norm := normalizeEmail(u.Email); norm != "" {
		row.Email = &norm
	}
	return row
}

func (row *userRow) user() *User {
	u := &User{
		ID:             row.ID,
		Username:       row.Username,
		Name:           row.Name,
		Headline:       row.Headline,
		Location:       row.Location,
		BannerImg:      row.BannerImg,
		ProfilePicture: row.ProfilePicture,
		PasswordHash:   row.PasswordHash,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.Email != nil {
		u.Email = *row.Email
	}
	return u
}

// GormPartyRepo stores users in SQLite.
type GormPartyRepo struct {
	db *gorm.DB
}

func NewGormPartyRepo(db *gorm.DB) *GormPartyRepo {
	return &GormPartyRepo{db: db}
}

func (r *GormPartyRepo) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = NewID()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if err := sqlite.MapError(r.db.WithContext(ctx).Create(toRow(user)).Error); err != nil {
		return conflictErr(err)
	}
	return nil
}

func (r *GormPartyRepo) Get(ctx context.Context, id string) (*User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormPartyRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *GormPartyRepo) first(ctx context.Context, query string, arg any) (*User, error) {
	var row userRow
	err := sqlite.MapError(r.db.WithContext(ctx).First(&row, query, arg).Error)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.user(), nil
}

func (r *GormPartyRepo) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", user.ID).
		Select("*").Omit("id", "created_at").Updates(toRow(user))
	if err := sqlite.MapError(res.Error); err != nil {
		return conflictErr(err)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *GormPartyRepo) List(ctx context.Context) ([]*User, error) {
	var rows []userRow
	if err := r.db.WithContext(ctx).Order("username").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*User, len(rows))
	for i := range rows {
		out[i] = rows[i].user()
	}
	return out, nil
}

func conflictErr(err error) error {
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	if strings.Contains(err.Error(), "email") {
		return ErrEmailExists
	}
	return ErrUserExists
}

var _ PartyRepo = (*GormPartyRepo)(nil)
