package detection

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var scan = SourceImage{ID: "img-1", Name: "scan.png", MediaType: "image/png", DataURI: "data:image/png;base64,AAAA"}

func TestImageSelectedClearsResultAndError(t *testing.T) {
	s := State{
		Image:  &SourceImage{ID: "old"},
		Result: &Result{HasTumor: true, Confidence: "90.00"},
		Error:  failure(KindServer),
	}

	next, dispatch := Transition(s, ImageSelected{Image: scan})
	require.Nil(t, dispatch)
	require.Equal(t, &scan, next.Image)
	require.Nil(t, next.Result)
	require.Nil(t, next.Error)
}

func TestImageRejectedClearsStalePrediction(t *testing.T) {
	s := State{Image: &scan, Result: &Result{HasTumor: true, Confidence: "90.00"}}

	next, dispatch := Transition(s, ImageRejected{})
	require.Nil(t, dispatch)
	require.Nil(t, next.Image)
	require.Nil(t, next.Result)
	require.Equal(t, KindDecode, next.Error.Kind)
	require.Equal(t, KindDecode.Message(), next.Error.Message)
}

func TestDetectWithoutImageNeverDispatches(t *testing.T) {
	next, dispatch := Transition(State{}, DetectRequested{})
	require.Nil(t, dispatch)
	require.False(t, next.Busy)
	require.Equal(t, KindMissingImage, next.Error.Kind)
	require.Equal(t, "Please upload an MRI image first", next.Error.Message)
}

func TestDetectRequestedDispatchesTaggedRequest(t *testing.T) {
	s := State{Image: &scan, Error: failure(KindServer), Result: &Result{Confidence: "1.00"}}

	next, dispatch := Transition(s, DetectRequested{})
	require.NotNil(t, dispatch)
	require.Equal(t, Dispatch{ImageID: "img-1", MediaType: "image/png", DataURI: scan.DataURI}, *dispatch)
	require.True(t, next.Busy)
	require.Equal(t, "img-1", next.InFlight)
	require.Nil(t, next.Error)
	require.Nil(t, next.Result)
}

func TestDetectRequestedWhileBusyIsIgnored(t *testing.T) {
	s := State{Image: &scan, Busy: true, InFlight: "img-1"}

	next, dispatch := Transition(s, DetectRequested{})
	require.Nil(t, dispatch)
	require.Equal(t, s, next)
}

func TestDetectSucceededRoundsConfidenceAndKeepsOverlay(t *testing.T) {
	s, _ := Transition(State{Image: &scan}, DetectRequested{})

	next, _ := Transition(s, DetectSucceeded{ImageID: "img-1", HasTumor: true, Confidence: 87.456, OverlayImage: "data:image/png;base64,BBBB"})
	require.False(t, next.Busy)
	require.Empty(t, next.InFlight)
	require.Nil(t, next.Error)
	require.Equal(t, &Result{HasTumor: true, Confidence: "87.46", OverlayImage: "data:image/png;base64,BBBB"}, next.Result)
}

func TestDetectSucceededSuppressesOverlayWithoutTumor(t *testing.T) {
	s, _ := Transition(State{Image: &scan}, DetectRequested{})

	next, _ := Transition(s, DetectSucceeded{ImageID: "img-1", HasTumor: false, Confidence: 12.3, OverlayImage: "data:image/png;base64,BBBB"})
	require.Equal(t, &Result{HasTumor: false, Confidence: "12.30"}, next.Result)
}

func TestNewResultRoundsExactHalvesUp(t *testing.T) {
	cases := map[string]struct {
		confidence float64
		want       string
	}{
		"representable tie":     {confidence: 12.125, want: "12.13"},
		"small tie":             {confidence: 0.125, want: "0.13"},
		"tie above fifty":       {confidence: 50.375, want: "50.38"},
		"stored below the half": {confidence: 1.005, want: "1.00"},
		"plain rounding":        {confidence: 87.456, want: "87.46"},
		"padding":               {confidence: 12.3, want: "12.30"},
		"whole":                 {confidence: 100, want: "100.00"},
		"zero":                  {confidence: 0, want: "0.00"},
		"negative tie":          {confidence: -0.125, want: "-0.13"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, NewResult(false, tc.confidence, "").Confidence)
		})
	}
}

func TestDetectFailedSetsKindMessageAndNoResult(t *testing.T) {
	for _, kind := range []ErrorKind{KindServer, KindProcessing} {
		t.Run(string(kind), func(t *testing.T) {
			s, _ := Transition(State{Image: &scan}, DetectRequested{})

			next, dispatch := Transition(s, DetectFailed{ImageID: "img-1", Kind: kind})
			require.Nil(t, dispatch)
			require.False(t, next.Busy)
			require.Nil(t, next.Result)
			require.Equal(t, &Failure{Kind: kind, Message: kind.Message()}, next.Error)
		})
	}
}

func TestStaleOutcomeIsDiscardedButBusyClears(t *testing.T) {
	s, _ := Transition(State{Image: &scan}, DetectRequested{})
	replacement := SourceImage{ID: "img-2", MediaType: "image/jpeg", DataURI: "data:image/jpeg;base64,CCCC"}
	s, _ = Transition(s, ImageSelected{Image: replacement})
	require.True(t, s.Busy)

	next, _ := Transition(s, DetectSucceeded{ImageID: "img-1", HasTumor: true, Confidence: 99})
	require.False(t, next.Busy)
	require.Nil(t, next.Result)
	require.Equal(t, "img-2", next.Image.ID)

	failed, _ := Transition(s, DetectFailed{ImageID: "img-1", Kind: KindServer})
	require.False(t, failed.Busy)
	require.Nil(t, failed.Error)
}

func TestKindOfClassifiesWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("call: %w", NewKindError(KindServer, errors.New("status 502")))
	require.Equal(t, KindServer, KindOf(wrapped))
	require.ErrorIs(t, wrapped, ErrServer)
	require.NotErrorIs(t, wrapped, ErrProcessing)
	require.Equal(t, KindProcessing, KindOf(errors.New("unexpected")))
}

func TestDetectRequestedRecordsDispatchTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, _ := Transition(State{Image: &scan}, DetectRequested{At: at})
	require.Equal(t, at, s.DispatchedAt)

	settled, _ := Transition(s, DetectFailed{ImageID: "img-1", Kind: KindServer})
	require.True(t, settled.DispatchedAt.IsZero())
}

func TestIsAbandoned(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	busy, _ := Transition(State{Image: &scan}, DetectRequested{At: at})

	require.False(t, IsAbandoned(State{Image: &scan}, at.Add(time.Hour), time.Minute))
	require.False(t, IsAbandoned(busy, at.Add(30*time.Second), time.Minute))
	require.True(t, IsAbandoned(busy, at.Add(2*time.Minute), time.Minute))

	busy.DispatchedAt = time.Time{}
	require.True(t, IsAbandoned(busy, at, time.Minute))
}

func TestDetectAbandonedClearsBusyWithProcessingError(t *testing.T) {
	s, _ := Transition(State{Image: &scan}, DetectRequested{At: time.Now()})

	next, dispatch := Transition(s, DetectAbandoned{})
	require.Nil(t, dispatch)
	require.False(t, next.Busy)
	require.Empty(t, next.InFlight)
	require.Nil(t, next.Result)
	require.Equal(t, &Failure{Kind: KindProcessing, Message: KindProcessing.Message()}, next.Error)

	again, dispatch := Transition(next, DetectRequested{At: time.Now()})
	require.NotNil(t, dispatch)
	require.True(t, again.Busy)
}

func TestDetectAbandonedForReplacedImageLeavesNoError(t *testing.T) {
	s, _ := Transition(State{Image: &scan}, DetectRequested{At: time.Now()})
	s, _ = Transition(s, ImageSelected{Image: SourceImage{ID: "img-2", MediaType: "image/png", DataURI: "data:image/png;base64,DDDD"}})

	next, _ := Transition(s, DetectAbandoned{})
	require.False(t, next.Busy)
	require.Nil(t, next.Error)
	require.Equal(t, "img-2", next.Image.ID)
}
