package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"
)

// ToPNG normalizes image bytes to PNG, the canonical encoding for stored
// artifacts. PNG input is returned unchanged; other formats are decoded and
// re-encoded.
func ToPNG(data []byte) ([]byte, error) {
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && format == "png" {
		return data, nil
	}

	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, fmt.Errorf("encode %s image as png: %w", format, err)
	}
	return buf.Bytes(), nil
}
