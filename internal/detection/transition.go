package detection

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Event is an input to the controller.
type Event interface {
	event()
}

// ImageSelected carries a successfully encoded selection.
type ImageSelected struct {
	Image SourceImage
}

// ImageRejected reports a selection that could not be decoded.
type ImageRejected struct{}

// DetectRequested is the user's detect trigger, stamped with the time it happened.
type DetectRequested struct {
	At time.Time
}

// DetectSucceeded is a 2xx response with a well-formed body.
type DetectSucceeded struct {
	ImageID      string
	HasTumor     bool
	Confidence   float64
	OverlayImage string
}

// DetectFailed settles a dispatch that produced no result.
type DetectFailed struct {
	ImageID string
	Kind    ErrorKind
}

// DetectAbandoned settles a pending request whose outcome was never recorded.
type DetectAbandoned struct{}

func (ImageSelected) event()   {}
func (ImageRejected) event()   {}
func (DetectRequested) event() {}
func (DetectSucceeded) event() {}
func (DetectFailed) event()    {}
func (DetectAbandoned) event() {}

// Dispatch describes the outbound inference call a transition asks for.
type Dispatch struct {
	ImageID   string
	MediaType string
	DataURI   string
}

// Transition computes the next state for an event. It never performs I/O; a non-nil
// Dispatch tells the caller to issue exactly one inference request and to feed its
// outcome back as DetectSucceeded or DetectFailed.
func Transition(s State, ev Event) (State, *Dispatch) {
	switch e := ev.(type) {
	case ImageSelected:
		img := e.Image
		s.Image = &img
		s.Result = nil
		s.Error = nil
		return s, nil

	case ImageRejected:
		s.Image = nil
		s.Result = nil
		s.Error = failure(KindDecode)
		return s, nil

	case DetectRequested:
		if s.Image == nil {
			s.Error = failure(KindMissingImage)
			return s, nil
		}
		if s.Busy {
			return s, nil
		}
		s.Busy = true
		s.InFlight = s.Image.ID
		s.DispatchedAt = e.At
		s.Error = nil
		s.Result = nil
		return s, &Dispatch{ImageID: s.Image.ID, MediaType: s.Image.MediaType, DataURI: s.Image.DataURI}

	case DetectSucceeded:
		s = settle(s)
		if !IsCurrent(s, e.ImageID) {
			return s, nil
		}
		s.Result = NewResult(e.HasTumor, e.Confidence, e.OverlayImage)
		return s, nil

	case DetectAbandoned:
		pending := s.InFlight
		s = settle(s)
		if pending != "" && IsCurrent(s, pending) {
			s.Error = failure(KindProcessing)
		}
		return s, nil

	case DetectFailed:
		s = settle(s)
		if !IsCurrent(s, e.ImageID) {
			return s, nil
		}
		s.Error = failure(e.Kind)
		return s, nil
	}
	return s, nil
}

// IsCurrent reports whether an outcome for imageID still applies to the session. An
// outcome for an image that has since been replaced is stale.
func IsCurrent(s State, imageID string) bool {
	return s.Image != nil && s.Image.ID == imageID
}

// NewResult applies the display rules: two-decimal confidence and an overlay only for
// positive detections.
func NewResult(hasTumor bool, confidence float64, overlay string) *Result {
	r := &Result{
		HasTumor:   hasTumor,
		Confidence: formatConfidence(confidence),
	}
	if hasTumor && overlay != "" {
		r.OverlayImage = overlay
	}
	return r
}

// formatConfidence renders v with two decimals from its exact binary value, rounding an
// exact half away from zero. 12.125 is representable and becomes "12.13"; 1.005 is
// stored just below the half and becomes "1.00".
func formatConfidence(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}

	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	scaled := new(big.Float).SetPrec(256).SetFloat64(v)
	scaled.Mul(scaled, new(big.Float).SetPrec(256).SetInt64(100))

	cents, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(256).Sub(scaled, new(big.Float).SetPrec(256).SetInt(cents))
	if frac.Cmp(big.NewFloat(0.5)) >= 0 {
		cents.Add(cents, big.NewInt(1))
	}

	digits := cents.String()
	if len(digits) < 3 {
		digits = strings.Repeat("0", 3-len(digits)) + digits
	}
	if sign != "" && strings.Trim(digits, "0") == "" {
		sign = ""
	}
	return sign + digits[:len(digits)-2] + "." + digits[len(digits)-2:]
}

func settle(s State) State {
	s.Busy = false
	s.InFlight = ""
	s.DispatchedAt = time.Time{}
	return s
}
