package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode reads an image file in any registered format.
func Decode(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &Buffer{img: img}, nil
}

// Encode writes buf to path, choosing the format from the file extension.
// quality applies to JPEG output only.
func Encode(path string, buf *Buffer, quality int) error {
	if buf.Empty() {
		return fmt.Errorf("encoding %s: %w", path, ErrEmptyRegion)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch ext {
	case ".png":
		err = png.Encode(f, buf.img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, buf.img, &jpeg.Options{Quality: quality})
	case ".tif", ".tiff":
		err = tiff.Encode(f, buf.img, &tiff.Options{Compression: tiff.Deflate})
	case ".bmp":
		err = bmp.Encode(f, buf.img)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// Don't leave a truncated file behind.
		os.Remove(path)
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}
