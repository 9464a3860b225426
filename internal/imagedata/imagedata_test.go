package imagedata

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(1, 1, color.Gray{Y: 200})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEncodeThenDecodeRecoversBytes(t *testing.T) {
	raw := pngBytes(t)

	enc, err := Encode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "image/png", enc.MediaType)
	require.True(t, strings.HasPrefix(enc.DataURI, "data:image/png;base64,"), enc.DataURI)

	data, mediaType, err := Decode(enc.DataURI)
	require.NoError(t, err)
	require.Equal(t, "image/png", mediaType)
	require.Equal(t, raw, data)
}

func TestEncodeRejectsNonImages(t *testing.T) {
	_, err := Encode(strings.NewReader("hello, this is plain text"))
	require.ErrorIs(t, err, ErrNotImage)

	_, err = Encode(bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrEmpty)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode("not a data uri")
	require.Error(t, err)
}

func TestExtension(t *testing.T) {
	require.Equal(t, ".png", Extension("image/png"))
	require.Equal(t, ".jpg", Extension("image/jpeg"))
	require.Equal(t, ".img", Extension("image/x-unknown-scan"))
}
