// Package media prepares chat photos before they are sent upstream and
// archived.
package media

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

const (
	// DefaultMaxDimension bounds the longer side of an uploaded photo.
	DefaultMaxDimension = 1568

	// DefaultJPEGQuality is the re-encode quality.
	DefaultJPEGQuality = 85
)

// Image is a decoded and re-encoded photo.
type Image struct {
	Data           []byte
	ContentType    string
	Width, Height  int // After resizing
	OriginalWidth  int
	OriginalHeight int
}

// Processor downsizes and re-encodes images.
type Processor interface {
	Prepare(r io.Reader) (*Image, error)
}

type imagingProcessor struct {
	maxDimension int
	quality      int
}

// NewProcessor returns a Processor backed by the imaging library.
// Zero arguments select the defaults.
func NewProcessor(maxDimension, quality int) Processor {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &imagingProcessor{maxDimension: maxDimension, quality: quality}
}

// Prepare fits the image within maxDimension x maxDimension, honours EXIF
// orientation and re-encodes it as JPEG. Smaller images keep their size.
func (p *imagingProcessor) Prepare(r io.Reader) (*Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	out := &Image{
		ContentType:    "image/jpeg",
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
	}

	if bounds.Dx() > p.maxDimension || bounds.Dy() > p.maxDimension {
		img = imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	out.Data = buf.Bytes()
	out.Width = img.Bounds().Dx()
	out.Height = img.Bounds().Dy()
	return out, nil
}
