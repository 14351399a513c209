package media

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageExtensions are the attachment extensions treated as images.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tiff"}

// IsImage reports whether an attachment is a recognized image, by extension
// first and declared content type second.
func IsImage(name, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return ext == "" && strings.HasPrefix(contentType, "image/")
}

// Header describes a decoded image header.
type Header struct {
	Format string
	Width  int
	Height int
}

// Sniff decodes only the image header from r.
func Sniff(r io.Reader) (Header, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return Header{}, fmt.Errorf("sniff image: %w", err)
	}
	return Header{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// BaseName strips the directory and the last extension from a filename.
func BaseName(name string) string {
	name = filepath.Base(name)
	if ext := filepath.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
