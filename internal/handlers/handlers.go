package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/tumor-detect/internal/detection"
	"github.com/example/tumor-detect/internal/session"
	"github.com/example/tumor-detect/internal/usecase"
)

// MaxUploadSize caps a selected image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and headers around the image part.
const multipartOverhead = 1 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.DetectionUseCase, sessionMiddleware gin.HandlerFunc) {
	router.SetHTMLTemplate(pageTemplate)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.Metrics())
	})

	page := router.Group("/", sessionMiddleware)
	page.GET("/", func(c *gin.Context) {
		sessionID, ok := requireSession(c)
		if !ok {
			return
		}
		state, err := uc.State(c.Request.Context(), sessionID)
		if err != nil {
			c.String(http.StatusInternalServerError, "unable to load session")
			return
		}
		c.HTML(http.StatusOK, "index.html.tmpl", newPageView(state))
	})
	page.POST("/upload", uploadHandler(uc, false))
	page.POST("/detect", detectHandler(uc, false))

	api := router.Group("/api", sessionMiddleware)
	api.GET("/state", func(c *gin.Context) {
		sessionID, ok := requireSession(c)
		if !ok {
			return
		}
		state, err := uc.State(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to load session"})
			return
		}
		c.JSON(http.StatusOK, state)
	})
	api.POST("/upload", uploadHandler(uc, true))
	api.POST("/detect", detectHandler(uc, true))
}

func uploadHandler(uc *usecase.DetectionUseCase, jsonMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := requireSession(c)
		if !ok {
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

		file, err := c.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
			// No selection: nothing changes.
			state, err := uc.IngestSelection(c.Request.Context(), sessionID, "", nil)
			respond(c, jsonMode, state, err)
			return
		case err != nil:
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form with an image field is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		state, err := uc.IngestSelection(c.Request.Context(), sessionID, file.Filename, src)
		respond(c, jsonMode, state, err)
	}
}

func detectHandler(uc *usecase.DetectionUseCase, jsonMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := requireSession(c)
		if !ok {
			return
		}
		state, err := uc.RunDetection(c.Request.Context(), sessionID)
		respond(c, jsonMode, state, err)
	}
}

// respond renders the outcome of a controller operation. Form posts go back to the page,
// which shows any error from the session state; API calls get the state as JSON.
func respond(c *gin.Context, jsonMode bool, state detection.State, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		if jsonMode {
			c.JSON(status, gin.H{"error": "internal error"})
		} else {
			c.String(status, "internal error")
		}
		return
	}
	if !jsonMode {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	if errors.Is(err, detection.ErrDetectionInFlight) {
		c.JSON(status, gin.H{"error": "detection already in progress", "state": state})
		return
	}
	c.JSON(status, state)
}

func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, detection.ErrDetectionInFlight) {
		return http.StatusConflict
	}
	var kindErr *detection.KindError
	if !errors.As(err, &kindErr) {
		return http.StatusInternalServerError
	}
	switch kindErr.Kind {
	case detection.KindMissingImage:
		return http.StatusBadRequest
	case detection.KindDecode:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadGateway
	}
}

func requireSession(c *gin.Context) (string, bool) {
	sessionID, ok := session.GetSessionID(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return "", false
	}
	return sessionID, true
}

type pageView struct {
	State      detection.State
	ImageURL   template.URL
	OverlayURL template.URL
	MaxUpload  int
}

// imageURIPrefix is the only URL form rendered into img src attributes.
const imageURIPrefix = "data:image/"

// newPageView marks the state's image data URIs as safe for img src attributes. Anything
// else, such as a javascript: or remote URL returned by the inference service, is dropped.
func newPageView(state detection.State) pageView {
	view := pageView{State: state, MaxUpload: MaxUploadSize >> 20}
	if state.Image != nil {
		view.ImageURL = imageURL(state.Image.DataURI)
	}
	if state.Result != nil {
		view.OverlayURL = imageURL(state.Result.OverlayImage)
	}
	return view
}

func imageURL(uri string) template.URL {
	if len(uri) <= len(imageURIPrefix) || !strings.EqualFold(uri[:len(imageURIPrefix)], imageURIPrefix) {
		return ""
	}
	return template.URL(uri)
}
