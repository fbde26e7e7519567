package helper

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
)

func TestNormalizeRecipient(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5511999999999", "5511999999999@s.whatsapp.net"},
		{"+55 (11) 99999-9999", "5511999999999@s.whatsapp.net"},
		{"011999999999", "5511999999999@s.whatsapp.net"},
		{"0055 11 99999 9999", "5511999999999@s.whatsapp.net"},
		{"5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"120363025246125486@g.us", "120363025246125486@g.us"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			jid, err := NormalizeRecipient(tt.in, "55")
			require.NoError(t, err)
			assert.Equal(t, tt.want, jid.String())
		})
	}
}

func TestNormalizeRecipientRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "abc123", "1234", "1234567890123456", "@s.whatsapp.net"} {
		_, err := NormalizeRecipient(in, "55")
		assert.ErrorIs(t, err, ErrInvalidPhone, in)
	}
}

func TestNormalizeRecipientIsUserServer(t *testing.T) {
	jid, err := NormalizeRecipient("5511999999999", "")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultUserServer, jid.Server)
}

func TestExtractPhoneFromJID(t *testing.T) {
	assert.Equal(t, "5511999999999", ExtractPhoneFromJID("5511999999999:43@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", ExtractPhoneFromJID("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "plain", ExtractPhoneFromJID("plain"))
}

func TestValidInstanceID(t *testing.T) {
	assert.True(t, ValidInstanceID("sales"))
	assert.True(t, ValidInstanceID("team_2-support"))
	assert.False(t, ValidInstanceID(""))
	assert.False(t, ValidInstanceID("../etc"))
	assert.False(t, ValidInstanceID("has space"))
}

func TestRequestValidator(t *testing.T) {
	type body struct {
		ID   string `validate:"omitempty,instanceid"`
		Name string `validate:"required"`
	}
	v := NewRequestValidator()
	assert.NoError(t, v.Validate(body{ID: "sales", Name: "Sales"}))
	assert.NoError(t, v.Validate(body{Name: "Sales"}))
	assert.Error(t, v.Validate(body{ID: "a/b", Name: "Sales"}))
	assert.Error(t, v.Validate(body{ID: "sales"}))
}

func TestThumbnailFromPNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for x := 0; x < 400; x++ {
		for y := 0; y < 200; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	assert.Equal(t, "image/png", ImageMimeType(buf.Bytes()))

	thumb, err := Thumbnail(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ImageMimeType(thumb))

	decoded, err := DecodeImage(thumb)
	require.NoError(t, err)
	assert.LessOrEqual(t, decoded.Bounds().Dx(), ThumbnailDimension)
	assert.LessOrEqual(t, decoded.Bounds().Dy(), ThumbnailDimension)
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	_, err := Thumbnail([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}
