package dataurl_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/kinship-app/kinship/internal/platform/dataurl"
)

// A 1x1 transparent PNG.
var pngPixel, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

// Minimal GIF89a header.
var gifHeader = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")

func TestEncode(t *testing.T) {
	got, err := dataurl.Encode(bytes.NewReader(pngPixel), 1024)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Errorf("unexpected prefix: %.40s", got)
	}
	if err := dataurl.Validate(got, 1024); err != nil {
		t.Errorf("round-tripped URL fails validation: %v", err)
	}

	gif, err := dataurl.Encode(bytes.NewReader(gifHeader), 1024)
	if err != nil {
		t.Fatalf("Encode gif failed: %v", err)
	}
	if !strings.HasPrefix(gif, "data:image/gif;base64,") {
		t.Errorf("unexpected gif prefix: %.40s", gif)
	}
}

func TestEncode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		max  int
		want error
	}{
		{"empty", nil, 1024, dataurl.ErrEmpty},
		{"too large", pngPixel, 10, dataurl.ErrTooLarge},
		{"text", []byte("hello, this is plainly not an image"), 1024, dataurl.ErrNotImage},
		{"pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), 1024, dataurl.ErrNotImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dataurl.Encode(bytes.NewReader(tt.data), tt.max)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	png := base64.StdEncoding.EncodeToString(pngPixel)
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"valid", "data:image/png;base64," + png, nil},
		{"not a data url", "https://example.com/a.png", dataurl.ErrMalformed},
		{"no comma", "data:image/png;base64", dataurl.ErrMalformed},
		{"not base64 flagged", "data:image/png," + png, dataurl.ErrMalformed},
		{"bad base64", "data:image/png;base64,@@@", dataurl.ErrMalformed},
		{"lying media type", "data:image/jpeg;base64," + png, dataurl.ErrNotImage},
		{"text payload", "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("just text here")), dataurl.ErrNotImage},
		{"too large", "data:image/png;base64," + png, dataurl.ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			max := 1024
			if tt.name == "too large" {
				max = 8
			}
			err := dataurl.Validate(tt.in, max)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
