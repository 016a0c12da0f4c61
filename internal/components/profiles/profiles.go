// Package profiles reads public profiles and applies partial updates to the owner's own.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/dataurl"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

var ErrInvalidUpdate = errors.New("invalid profile update")

// Profile is the public view of a user plus the IDs they are connected to.
type Profile struct {
	ID             string   `json:"id"`
	Username       string   `json:"username"`
	Name           string   `json:"name"`
	Headline       string   `json:"headline"`
	Location       string   `json:"location"`
	BannerImg      string   `json:"bannerImg"`
	ProfilePicture string   `json:"profilePicture"`
	Connections    []string `json:"connections"`
}

// Update is a partial profile change. Nil fields are left untouched; an
// empty image string resets that image to the default.
type Update struct {
	Name           *string `json:"name,omitempty" validate:"omitnil,min=1,max=100"`
	Headline       *string `json:"headline,omitempty" validate:"omitnil,max=200"`
	Location       *string `json:"location,omitempty" validate:"omitnil,max=100"`
	BannerImg      *string `json:"bannerImg,omitempty" validate:"omitempty,image_data_url"`
	ProfilePicture *string `json:"profilePicture,omitempty" validate:"omitempty,image_data_url"`
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.Name == nil && u.Headline == nil && u.Location == nil &&
		u.BannerImg == nil && u.ProfilePicture == nil
}

// ConnectionLister returns the IDs connected to a user.
type ConnectionLister interface {
	ConnectionsOf(ctx context.Context, userID string) ([]string, error)
}

// Service reads and updates profiles.
type Service struct {
	users    identity.PartyRepo
	conns    ConnectionLister
	validate *validator.Validate
	log      *slog.Logger
}

// NewService builds a Service. maxImageBytes bounds decoded image size.
func NewService(users identity.PartyRepo, conns ConnectionLister, maxImageBytes int, log *slog.Logger) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("image_data_url", func(fl validator.FieldLevel) bool {
		return dataurl.Validate(fl.Field().String(), maxImageBytes) == nil
	})
	return &Service{
		users:    users,
		conns:    conns,
		validate: v,
		log:      logutil.NoopIfNil(log),
	}
}

// Get returns the profile for username.
func (s *Service) Get(ctx context.Context, username string) (*Profile, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, u)
}

// GetByID returns the profile for a user ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Profile, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, u)
}

// Apply validates upd and writes the touched fields to the user's record.
func (s *Service) Apply(ctx context.Context, userID string, upd Update) (*Profile, error) {
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		upd.Name = &trimmed
	}
	if err := s.validate.StructCtx(ctx, upd); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUpdate, describe(err))
	}

	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Empty() {
		return s.profile(ctx, u)
	}

	var touched []string
	set := func(dst *string, src *string, field string) {
		if src != nil {
			*dst = *src
			touched = append(touched, field)
		}
	}
	set(&u.Name, upd.Name, "name")
	set(&u.Headline, upd.Headline, "headline")
	set(&u.Location, upd.Location, "location")
	set(&u.BannerImg, upd.BannerImg, "bannerImg")
	set(&u.ProfilePicture, upd.ProfilePicture, "profilePicture")

	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "profile updated", "user_id", u.ID, "fields", touched)
	return s.profile(ctx, u)
}

func (s *Service) profile(ctx context.Context, u *identity.User) (*Profile, error) {
	conns, err := s.conns.ConnectionsOf(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return &Profile{
		ID:             u.ID,
		Username:       u.Username,
		Name:           u.Name,
		Headline:       u.Headline,
		Location:       u.Location,
		BannerImg:      u.BannerImg,
		ProfilePicture: u.ProfilePicture,
		Connections:    conns,
	}, nil
}

// describe turns validator errors into one readable sentence.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "image_data_url":
			msgs = append(msgs, field+" must be an image data URL within the size limit")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		case "min":
			msgs = append(msgs, field+" must not be empty")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
