package upload

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	// ThumbnailMaxWidth is the maximum width for generated thumbnails.
	ThumbnailMaxWidth = 320

	// ThumbnailMaxHeight is the maximum height for generated thumbnails.
	ThumbnailMaxHeight = 320

	// ThumbnailJPEGQuality is the JPEG quality for thumbnails (0-100).
	ThumbnailJPEGQuality = 85
)

// ThumbnailProcessor turns an uploaded image into a preview.
type ThumbnailProcessor interface {
	// GenerateThumbnail returns a JPEG fitting within maxWidth x maxHeight
	// along with the original dimensions.
	GenerateThumbnail(data io.Reader, maxWidth, maxHeight int) ([]byte, int, int, error)
}

type imagingProcessor struct{}

// NewImagingProcessor creates a ThumbnailProcessor backed by the imaging
// library. Radiometric TIFFs from thermal cameras decode as well as JPEG and
// PNG.
func NewImagingProcessor() ThumbnailProcessor {
	return imagingProcessor{}
}

func (imagingProcessor) GenerateThumbnail(data io.Reader, maxWidth, maxHeight int) ([]byte, int, int, error) {
	img, err := imaging.Decode(data, imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	thumb := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(ThumbnailJPEGQuality)); err != nil {
		return nil, 0, 0, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// ThumbnailKey derives the thumbnail object key from an image key.
// projects/1/images/abc.tif becomes projects/1/thumbnails/abc.jpg.
func ThumbnailKey(imageKey string) string {
	dir, file := path.Split(imageKey)
	dir = strings.Replace(dir, "/images/", "/thumbnails/", 1)
	return dir + strings.TrimSuffix(file, path.Ext(file)) + ".jpg"
}
