// Package imagedata converts uploaded files to and from the data URI form the page
// renders and the controller stores.
package imagedata

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/vincent-petithory/dataurl"
)

var (
	ErrEmpty    = errors.New("image is empty")
	ErrNotImage = errors.New("file is not an image")
)

// Encoded is an image held as a self-contained data URI.
type Encoded struct {
	MediaType string
	DataURI   string
}

// Encode reads r fully and sniffs its content. Only image media types are accepted.
func Encode(r io.Reader) (Encoded, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Encoded{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return Encoded{}, ErrEmpty
	}

	mediaType := baseType(mimetype.Detect(data).String())
	if !strings.HasPrefix(mediaType, "image/") {
		return Encoded{}, fmt.Errorf("%w: detected %s", ErrNotImage, mediaType)
	}

	return Encoded{
		MediaType: mediaType,
		DataURI:   dataurl.New(data, mediaType).String(),
	}, nil
}

// Decode turns a data URI back into raw bytes and its media type.
func Decode(uri string) ([]byte, string, error) {
	du, err := dataurl.DecodeString(uri)
	if err != nil {
		return nil, "", fmt.Errorf("decode data uri: %w", err)
	}
	if len(du.Data) == 0 {
		return nil, "", ErrEmpty
	}
	return du.Data, du.ContentType(), nil
}

// Extension returns a file extension for mediaType, or ".img" when none is known.
func Extension(mediaType string) string {
	if mt := mimetype.Lookup(baseType(mediaType)); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	return ".img"
}

func baseType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.TrimSpace(mediaType)
}
