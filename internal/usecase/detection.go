package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tumor-detect/internal/detection"
	"github.com/example/tumor-detect/internal/imagedata"
	"github.com/example/tumor-detect/internal/inference"
	"github.com/example/tumor-detect/internal/logging"
	"github.com/example/tumor-detect/internal/repository"
)

const syntheticFilename = "mri_image"

// settleTimeout bounds each final state write after a detection, which runs even when the
// triggering request's context is already cancelled.
const settleTimeout = 5 * time.Second

// DetectionUseCase runs the upload/inference controller for every browser session.
type DetectionUseCase struct {
	states         repository.StateRepository
	client         inference.Client
	logger         *zap.Logger
	locks          *keyedMutex
	metrics        *metrics
	newID          func() string
	now            func() time.Time
	settleAttempts int
	settleBackoff  time.Duration
	// busyTimeout is how long a dispatched request may stay unsettled before its Busy flag
	// is treated as abandoned.
	busyTimeout time.Duration
}

// NewDetectionUseCase constructs a new use case instance. inferenceTimeout is the upper
// bound of one inference call.
func NewDetectionUseCase(states repository.StateRepository, client inference.Client, inferenceTimeout time.Duration, logger *zap.Logger) *DetectionUseCase {
	uc := &DetectionUseCase{
		states:         states,
		client:         client,
		logger:         logger.Named("detection_usecase"),
		locks:          newKeyedMutex(),
		metrics:        &metrics{},
		newID:          uuid.NewString,
		now:            time.Now,
		settleAttempts: 3,
		settleBackoff:  100 * time.Millisecond,
	}
	uc.busyTimeout = inferenceTimeout + time.Duration(uc.settleAttempts)*settleTimeout
	return uc
}

// State returns the session's current state, settling a detection whose outcome was lost.
func (uc *DetectionUseCase) State(ctx context.Context, sessionID string) (detection.State, error) {
	current, err := uc.states.Load(ctx, sessionID)
	if err != nil || !detection.IsAbandoned(current, uc.now(), uc.busyTimeout) {
		return current, err
	}
	next, _, err := uc.apply(ctx, sessionID, detection.DetectAbandoned{})
	return next, err
}

// IngestSelection replaces the session's image with file. A nil file changes nothing.
// An unreadable or non-image file clears the image and any result and returns ErrDecode.
func (uc *DetectionUseCase) IngestSelection(ctx context.Context, sessionID, name string, file io.Reader) (detection.State, error) {
	if file == nil {
		return uc.states.Load(ctx, sessionID)
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.ingest_selection", sessionID)

	var ev detection.Event
	encoded, decodeErr := imagedata.Encode(file)
	if decodeErr != nil {
		opLogger.Info("rejected selection", zap.String("name", name), zap.Error(decodeErr))
		ev = detection.ImageRejected{}
	} else {
		ev = detection.ImageSelected{Image: detection.SourceImage{
			ID:        uc.newID(),
			Name:      name,
			MediaType: encoded.MediaType,
			DataURI:   encoded.DataURI,
		}}
	}

	next, _, err := uc.apply(ctx, sessionID, ev)
	if err != nil {
		return detection.State{}, err
	}
	if decodeErr != nil {
		return next, detection.NewKindError(detection.KindDecode, decodeErr)
	}
	opLogger.Info("image selected", zap.String("image_id", next.Image.ID), zap.String("media_type", next.Image.MediaType))
	return next, nil
}

// RunDetection sends the session's image to the inference service and records the outcome.
// The returned state is the settled one; the error carries the failure kind, if any.
func (uc *DetectionUseCase) RunDetection(ctx context.Context, sessionID string) (detection.State, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.run_detection", sessionID)

	dispatched, dispatch, err := uc.apply(ctx, sessionID, detection.DetectRequested{At: uc.now()})
	if err != nil {
		return detection.State{}, err
	}
	if dispatch == nil {
		if !dispatched.HasImage() {
			uc.metrics.recordFailure(detection.KindMissingImage)
			return dispatched, detection.ErrMissingImage
		}
		return dispatched, detection.ErrDetectionInFlight
	}

	started := time.Now()
	outcome, callErr := uc.call(ctx, dispatch)
	uc.metrics.recordLatency(time.Since(started))

	settled, err := uc.settle(ctx, sessionID, outcome)
	if err != nil {
		opLogger.Error("failed to settle detection", zap.Error(err))
		return detection.State{}, err
	}
	if !detection.IsCurrent(settled, dispatch.ImageID) {
		uc.metrics.recordStale()
		opLogger.Info("discarded outcome for replaced image", zap.String("image_id", dispatch.ImageID))
		return settled, nil
	}

	if callErr != nil {
		kind := detection.KindOf(callErr)
		uc.metrics.recordFailure(kind)
		opLogger.Warn("detection failed", zap.String("kind", string(kind)), zap.Error(callErr))
		return settled, callErr
	}

	uc.metrics.recordSuccess(settled.Result.HasTumor)
	opLogger.Info("detection completed",
		zap.String("image_id", dispatch.ImageID),
		zap.Bool("has_tumor", settled.Result.HasTumor),
		zap.String("confidence", settled.Result.Confidence),
	)
	return settled, nil
}

// Metrics returns a snapshot of the detection counters.
func (uc *DetectionUseCase) Metrics() MetricsSummary {
	return uc.metrics.summary()
}

// call performs the dispatch and always yields a settlement event, converting panics into
// processing errors.
func (uc *DetectionUseCase) call(ctx context.Context, d *detection.Dispatch) (ev detection.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = detection.NewKindError(detection.KindProcessing, fmt.Errorf("panic: %v", r))
			ev = detection.DetectFailed{ImageID: d.ImageID, Kind: detection.KindProcessing}
		}
	}()

	data, mediaType, err := imagedata.Decode(d.DataURI)
	if err != nil {
		err = detection.NewKindError(detection.KindProcessing, err)
		return detection.DetectFailed{ImageID: d.ImageID, Kind: detection.KindProcessing}, err
	}

	res, err := uc.client.Detect(ctx, inference.Image{
		Data:      data,
		MediaType: mediaType,
		Filename:  syntheticFilename + imagedata.Extension(mediaType),
	})
	if err != nil {
		kind := detection.KindProcessing
		var statusErr *inference.StatusError
		if errors.As(err, &statusErr) {
			kind = detection.KindServer
		}
		return detection.DetectFailed{ImageID: d.ImageID, Kind: kind}, detection.NewKindError(kind, err)
	}
	if res == nil {
		err = detection.NewKindError(detection.KindProcessing, errors.New("empty inference result"))
		return detection.DetectFailed{ImageID: d.ImageID, Kind: detection.KindProcessing}, err
	}

	return detection.DetectSucceeded{
		ImageID:      d.ImageID,
		HasTumor:     res.HasTumor,
		Confidence:   res.Confidence,
		OverlayImage: res.OverlayImage,
	}, nil
}

// settle records a detection outcome. The write must happen even if the caller went away
// mid-flight, so it runs detached from ctx and is retried with backoff.
func (uc *DetectionUseCase) settle(ctx context.Context, sessionID string, outcome detection.Event) (detection.State, error) {
	detached := context.WithoutCancel(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.settle_detection", sessionID)

	backoff := uc.settleBackoff
	var err error
	for attempt := 0; attempt < uc.settleAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		settleCtx, cancel := context.WithTimeout(detached, settleTimeout)
		var settled detection.State
		settled, _, err = uc.apply(settleCtx, sessionID, outcome)
		cancel()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("settle succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return settled, nil
		}
		opLogger.Warn("settle attempt failed", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return detection.State{}, err
}

// apply runs one load-transition-save step under the session lock. A Busy flag left behind
// by a detection that never settled is cleared before ev is applied.
func (uc *DetectionUseCase) apply(ctx context.Context, sessionID string, ev detection.Event) (detection.State, *detection.Dispatch, error) {
	unlock := uc.locks.Lock(sessionID)
	defer unlock()

	current, err := uc.states.Load(ctx, sessionID)
	if err != nil {
		return detection.State{}, nil, logging.NewOperationError("usecase.load_state", sessionID, err)
	}
	if detection.IsAbandoned(current, uc.now(), uc.busyTimeout) {
		logging.WithOperation(uc.logger, "usecase.apply", sessionID).Warn("clearing abandoned detection",
			zap.String("image_id", current.InFlight),
			zap.Time("dispatched_at", current.DispatchedAt),
		)
		current, _ = detection.Transition(current, detection.DetectAbandoned{})
	}
	next, dispatch := detection.Transition(current, ev)
	if err := uc.states.Save(ctx, sessionID, next); err != nil {
		return detection.State{}, nil, logging.NewOperationError("usecase.save_state", sessionID, err)
	}
	return next, dispatch, nil
}
