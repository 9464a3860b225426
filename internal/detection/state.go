package detection

import "time"

// SourceImage is the currently selected image in a directly renderable form.
type SourceImage struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type"`
	DataURI   string `json:"data_uri"`
}

// Result is the displayed outcome of a completed inference call.
type Result struct {
	HasTumor bool `json:"has_tumor"`
	// Confidence is the 0-100 score formatted with two decimals.
	Confidence   string `json:"confidence"`
	OverlayImage string `json:"overlay_image,omitempty"`
}

// Failure is the error shown to the user.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// State is everything the page renders for one session.
type State struct {
	Image  *SourceImage `json:"image,omitempty"`
	Result *Result      `json:"result,omitempty"`
	Error  *Failure     `json:"error,omitempty"`
	Busy   bool         `json:"busy"`
	// InFlight is the ID of the image the pending request was dispatched for.
	InFlight string `json:"in_flight,omitempty"`
	// DispatchedAt is when the pending request was sent; zero when idle.
	DispatchedAt time.Time `json:"dispatched_at"`
}

// HasImage reports whether the detect trigger is usable.
func (s State) HasImage() bool {
	return s.Image != nil
}

// CanDetect mirrors the page's button gating.
func (s State) CanDetect() bool {
	return s.Image != nil && !s.Busy
}

func failure(kind ErrorKind) *Failure {
	return &Failure{Kind: kind, Message: kind.Message()}
}

// IsAbandoned reports a Busy flag whose request can no longer settle: it was dispatched
// longer than timeout ago, so the settle write was lost.
func IsAbandoned(s State, now time.Time, timeout time.Duration) bool {
	if !s.Busy {
		return false
	}
	return s.DispatchedAt.IsZero() || now.Sub(s.DispatchedAt) > timeout
}
