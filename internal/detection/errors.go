package detection

import "errors"

// ErrorKind classifies a failure the user can see. Each kind has exactly one message.
type ErrorKind string

const (
	KindMissingImage ErrorKind = "missing_image"
	KindServer       ErrorKind = "server_error"
	KindProcessing   ErrorKind = "processing_error"
	KindDecode       ErrorKind = "decode_error"
)

var messages = map[ErrorKind]string{
	KindMissingImage: "Please upload an MRI image first",
	KindServer:       "Server error. Please try again later.",
	KindProcessing:   "Error processing image. Please try again.",
	KindDecode:       "Could not read the selected image. Please choose another file.",
}

// Message returns the fixed user-facing text for the kind.
func (k ErrorKind) Message() string {
	if msg, ok := messages[k]; ok {
		return msg
	}
	return messages[KindProcessing]
}

// KindError is a failure of a given kind. Err keeps the diagnostic cause for logs only.
type KindError struct {
	Kind ErrorKind
	Err  error
}

var (
	ErrMissingImage = &KindError{Kind: KindMissingImage}
	ErrServer       = &KindError{Kind: KindServer}
	ErrProcessing   = &KindError{Kind: KindProcessing}
	ErrDecode       = &KindError{Kind: KindDecode}

	// ErrDetectionInFlight rejects a trigger while the session is busy.
	ErrDetectionInFlight = errors.New("detection already in flight")
)

// NewKindError attaches a cause to a kind.
func NewKindError(kind ErrorKind, cause error) *KindError {
	return &KindError{Kind: kind, Err: cause}
}

func (e *KindError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *KindError) Unwrap() error { return e.Err }

// Is matches any KindError of the same kind, so errors.Is(err, ErrServer) works on wrapped causes.
func (e *KindError) Is(target error) bool {
	t, ok := target.(*KindError)
	return ok && t.Kind == e.Kind
}

// KindOf classifies err. Anything that is not a KindError counts as a processing error.
func KindOf(err error) ErrorKind {
	var kindErr *KindError
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}
	return KindProcessing
}
