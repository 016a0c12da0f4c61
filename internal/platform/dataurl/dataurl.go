// Package dataurl encodes and checks base64 data URLs carrying images.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrMalformed = errors.New("malformed data URL")
	ErrNotImage  = errors.New("data is not an image")
	ErrTooLarge  = errors.New("image exceeds the size limit")
	ErrEmpty     = errors.New("image is empty")
)

// Encode reads at most maxBytes from r, sniffs the content type and returns
// data:<mime>;base64,<payload>. Only image types are accepted.
func Encode(r io.Reader, maxBytes int) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(maxBytes)+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > maxBytes {
		return "", ErrTooLarge
	}
	mime, err := sniffImage(data)
	if err != nil {
		return "", err
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Decode splits a data URL into its declared media type and payload.
func Decode(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrMalformed
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformed
	}
	mediaType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrMalformed
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return mediaType, data, nil
}

// Validate checks that s is a base64 image data URL whose decoded content
// is within maxBytes and actually is the image type it claims to be.
func Validate(s string, maxBytes int) error {
	declared, data, err := Decode(s)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > maxBytes {
		return ErrTooLarge
	}
	sniffed, err := sniffImage(data)
	if err != nil {
		return err
	}
	if !strings.EqualFold(declared, sniffed) {
		return fmt.Errorf("%w: declared %s but content is %s", ErrNotImage, declared, sniffed)
	}
	return nil
}

func sniffImage(data []byte) (string, error) {
	m := mimetype.Detect(data)
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			// Drop parameters such as charset that some detectors add.
			mime, _, _ := strings.Cut(m.String(), ";")
			return mime, nil
		}
	}
	return "", fmt.Errorf("%w: detected %s", ErrNotImage, mimetype.Detect(data).String())
}
