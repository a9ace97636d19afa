package normalizer

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

const maxDimension = 4096

// Normalizer re-encodes source images to canonical PNG in sRGB, clamping
// oversized dimensions. Downstream stages then never deal with exotic
// encodings or multi-hundred-megapixel inputs.
type Normalizer struct{}

func New() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) Normalize(ctx context.Context, data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errs.Classify(errs.ClassInvalidInput,
			fmt.Errorf("Normalizer - Normalize - imaging.Decode: %w", err))
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxDimension || bounds.Dy() > maxDimension {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
		return nil, fmt.Errorf("Normalizer - Normalize - imaging.Encode: %w", err)
	}

	return buf.Bytes(), nil
}
