package inference

import (
	"context"
	"errors"
	"fmt"
)

// DetectPath is appended to the configured base URL.
const DetectPath = "/api/detect-tumor"

// Image is the binary payload sent to the inference service.
type Image struct {
	Data      []byte
	MediaType string
	Filename  string
}

// Result contains the outcome returned by the inference service.
type Result struct {
	HasTumor     bool
	Confidence   float64
	OverlayImage string
}

// Client exposes the single call the detection flow makes.
type Client interface {
	Detect(ctx context.Context, img Image) (*Result, error)
}

// ErrMalformedResponse is returned for 2xx bodies that are not the expected JSON shape.
var ErrMalformedResponse = errors.New("malformed inference response")

// StatusError reports a non-2xx response. The body is never read.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned status %d", e.StatusCode)
}
