package media

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		max   int
		wantW int
		wantH int
	}{
		{name: "landscape downscaled", w: 400, h: 200, max: 100, wantW: 100, wantH: 50},
		{name: "portrait downscaled", w: 100, h: 300, max: 150, wantW: 50, wantH: 150},
		{name: "small kept", w: 80, h: 60, max: 100, wantW: 80, wantH: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(tt.max, 0)
			out, err := p.Prepare(bytes.NewReader(encodePNG(t, tt.w, tt.h)))
			require.NoError(t, err)

			assert.Equal(t, "image/jpeg", out.ContentType)
			assert.Equal(t, tt.w, out.OriginalWidth)
			assert.Equal(t, tt.h, out.OriginalHeight)
			assert.Equal(t, tt.wantW, out.Width)
			assert.Equal(t, tt.wantH, out.Height)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
			assert.Equal(t, tt.wantW, cfg.Width)
		})
	}
}

func TestPrepare_Invalid(t *testing.T) {
	_, err := NewProcessor(0, 0).Prepare(strings.NewReader("not an image"))
	assert.Error(t, err)
}
