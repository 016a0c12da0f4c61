package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/kinship-app/kinship/internal/frontend/model"
	"github.com/kinship-app/kinship/internal/platform/dataurl"
)

// Field names an editable profile field.
type Field string

const (
	FieldName           Field = "name"
	FieldHeadline       Field = "headline"
	FieldLocation       Field = "location"
	FieldBannerImg      Field = "bannerImg"
	FieldProfilePicture Field = "profilePicture"
)

// Fields lists the editable fields in display order.
var Fields = []Field{FieldName, FieldHeadline, FieldLocation, FieldBannerImg, FieldProfilePicture}

var (
	ErrUnknownField = errors.New("unknown profile field")
	ErrNotImage     = errors.New("field does not hold an image")
	ErrTxDone       = errors.New("edit transaction already committed or discarded")
)

// DefaultMaxImageBytes bounds images read by SetImage.
const DefaultMaxImageBytes = 2 << 20

// EditTransaction buffers edits to one profile. Only touched fields are
// sent on commit. It is not safe for concurrent use; Header serializes it.
type EditTransaction struct {
	values   map[Field]string
	order    []Field
	maxImage int
	save     SaveFunc
	done     bool
}

// SaveFunc persists a partial update.
type SaveFunc func(ctx context.Context, upd model.ProfileUpdate) error

func newEditTransaction(save SaveFunc, maxImage int) *EditTransaction {
	if maxImage <= 0 {
		maxImage = DefaultMaxImageBytes
	}
	return &EditTransaction{values: make(map[Field]string), maxImage: maxImage, save: save}
}

// Commit saves the touched fields. On failure the buffer stays usable so
// the caller can retry or discard.
func (tx *EditTransaction) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	if tx.save != nil {
		if err := tx.save(ctx, tx.Update()); err != nil {
			return err
		}
	}
	tx.done = true
	return nil
}

// Discard drops the buffer.
func (tx *EditTransaction) Discard() {
	tx.done = true
	tx.values = make(map[Field]string)
	tx.order = nil
}

func isImage(f Field) bool { return f == FieldBannerImg || f == FieldProfilePicture }

// Set buffers a text value. Setting a field back to its original value
// still counts as a touch.
func (tx *EditTransaction) Set(f Field, value string) error {
	if tx.done {
		return ErrTxDone
	}
	if !slices.Contains(Fields, f) {
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	tx.put(f, value)
	return nil
}

// SetImage reads an image and buffers it as a data URL.
func (tx *EditTransaction) SetImage(f Field, r io.Reader) error {
	if tx.done {
		return ErrTxDone
	}
	if !isImage(f) {
		return fmt.Errorf("%w: %q", ErrNotImage, f)
	}
	u, err := dataurl.Encode(r, tx.maxImage)
	if err != nil {
		return fmt.Errorf("%s: %w", f, err)
	}
	tx.put(f, u)
	return nil
}

func (tx *EditTransaction) put(f Field, v string) {
	if _, ok := tx.values[f]; !ok {
		tx.order = append(tx.order, f)
	}
	tx.values[f] = v
}

// Value returns the buffered value of f, if touched.
func (tx *EditTransaction) Value(f Field) (string, bool) {
	v, ok := tx.values[f]
	return v, ok
}

// Touched returns the touched fields in the order first set.
func (tx *EditTransaction) Touched() []Field {
	return slices.Clone(tx.order)
}

// Update builds the partial update holding only touched fields.
func (tx *EditTransaction) Update() model.ProfileUpdate {
	var u model.ProfileUpdate
	for f, v := range tx.values {
		v := v
		switch f {
		case FieldName:
			u.Name = &v
		case FieldHeadline:
			u.Headline = &v
		case FieldLocation:
			u.Location = &v
		case FieldBannerImg:
			u.BannerImg = &v
		case FieldProfilePicture:
			u.ProfilePicture = &v
		}
	}
	return u
}

func fieldOf(p *model.Profile, f Field) string {
	if p == nil {
		return ""
	}
	switch f {
	case FieldName:
		return p.Name
	case FieldHeadline:
		return p.Headline
	case FieldLocation:
		return p.Location
	case FieldBannerImg:
		return p.BannerImg
	case FieldProfilePicture:
		return p.ProfilePicture
	}
	return ""
}
