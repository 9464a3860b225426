package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/tumor-detect/internal/logging"
)

const formField = "image"

type detectResponse struct {
	HasTumor     *bool    `json:"hasTumor"`
	Confidence   *float64 `json:"confidence"`
	OverlayImage string   `json:"overlayImage"`
}

// HTTPClient posts images to a remote inference API over multipart/form-data.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewHTTPClient returns a client for baseURL. A nil httpClient gets one with the given timeout.
func NewHTTPClient(baseURL string, httpClient *http.Client, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(baseURL, "/") + DetectPath,
		http:     httpClient,
		logger:   logger.Named("inference_client"),
	}
}

// Endpoint is the full detect URL.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Detect issues exactly one POST. There are no retries.
func (c *HTTPClient) Detect(ctx context.Context, img Image) (*Result, error) {
	body, contentType, err := buildMultipart(img)
	if err != nil {
		return nil, logging.NewOperationError("inference.build_request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, logging.NewOperationError("inference.build_request", "", err)
	}
	req.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("inference request failed", zap.String("endpoint", c.endpoint), zap.Error(err))
		return nil, logging.NewOperationError("inference.send", "", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("inference response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(started)),
		zap.Int("payload_bytes", len(img.Data)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, logging.NewOperationError("inference.read_body", "", err)
	}

	// The whole body must be one JSON value; trailing data is malformed.
	var payload detectResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, logging.NewOperationError("inference.decode", "", fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if payload.HasTumor == nil || payload.Confidence == nil {
		return nil, logging.NewOperationError("inference.decode", "", fmt.Errorf("%w: hasTumor and confidence are required", ErrMalformedResponse))
	}

	return &Result{
		HasTumor:     *payload.HasTumor,
		Confidence:   *payload.Confidence,
		OverlayImage: payload.OverlayImage,
	}, nil
}

func buildMultipart(img Image) (*bytes.Buffer, string, error) {
	if img.Filename == "" {
		return nil, "", fmt.Errorf("filename is required")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, img.Filename))
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	header.Set("Content-Type", mediaType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
