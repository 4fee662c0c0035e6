package session

import "errors"

var (
	// ErrCaptureFailed wraps failures of the capture primitive or of
	// reading viewport metrics. Retried.
	ErrCaptureFailed = errors.New("session: capture failed")

	// ErrDecodeFailed wraps failures decoding a captured image. Retried.
	ErrDecodeFailed = errors.New("session: decode failed")

	// ErrCompositeFailed wraps failures drawing a decoded image. Retried.
	ErrCompositeFailed = errors.New("session: composite failed")

	// ErrViewportMoved means the page scrolled while the capture was in
	// flight, so the image cannot be trusted to match the computed delta.
	ErrViewportMoved = errors.New("session: viewport moved during capture")
)
