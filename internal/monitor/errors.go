package monitor

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch is returned when an upstream request fails or answers non-2xx
	ErrFetch = errors.New("upstream fetch failed")

	// ErrParse is returned when an upstream payload lacks the fields a check needs
	ErrParse = errors.New("unexpected upstream payload")

	// ErrSizeResolution is returned when download sizes cannot be computed
	ErrSizeResolution = errors.New("size resolution failed")

	// ErrDelivery is returned by senders when a message cannot be delivered
	ErrDelivery = errors.New("delivery failed")

	// ErrStore is returned when the version state store cannot be read or written
	ErrStore = errors.New("state store failure")

	// ErrUnknownProduct is returned for product keys or aliases not in the registry
	ErrUnknownProduct = errors.New("unknown product")

	// ErrNoDownload is returned when a channel currently offers no package
	ErrNoDownload = errors.New("no download available")

	// ErrInvalidTarget is returned when a delivery target string is malformed
	ErrInvalidTarget = errors.New("invalid delivery target")

	// ErrUnknownEvent is returned when rendering an event type outside the closed set
	ErrUnknownEvent = errors.New("unknown event type")
)

// StatusError carries a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, body)
}

// Unwrap lets errors.Is(err, ErrFetch) match status failures.
func (e *StatusError) Unwrap() error {
	return ErrFetch
}
