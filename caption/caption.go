// Package caption turns an uploaded photo into a short text description
// used to pre-fill a report.
package caption

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNoCaption is returned when the model answered without usable text.
	ErrNoCaption = errors.New("caption: no caption produced")
	// ErrDisabled is returned when no captioning backend is configured.
	ErrDisabled = errors.New("caption: captioning disabled")
	// ErrEmptyImage is returned for a zero-length upload.
	ErrEmptyImage = errors.New("caption: empty image")
)

// MaxImageBytes caps the payload forwarded to a captioning backend.
const MaxImageBytes = 8 << 20

type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// Disabled is the captioner used when no backend is configured.
type Disabled struct{}

func (Disabled) Caption(context.Context, []byte) (string, error) {
	return "", ErrDisabled
}

func clean(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrNoCaption
	}
	return s, nil
}

func checkImage(image []byte) error {
	if len(image) == 0 {
		return ErrEmptyImage
	}
	if len(image) > MaxImageBytes {
		return errors.New("caption: image too large")
	}
	return nil
}
