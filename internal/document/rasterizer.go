// Package document converts uploaded PDF and Word documents into ordered
// page images that are delivered like an image batch.
package document

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/gridzer0/threadbot/internal/media"
)

// Kind is a recognized document type.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindWord
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "PDF"
	case KindWord:
		return "DOCX"
	}
	return "document"
}

// Classify reports the document kind of a file name.
func Classify(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".docx", ".doc":
		return KindWord
	}
	return KindUnknown
}

// Rasterizer turns a document into PNG page images in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, name string, data []byte) ([][]byte, error)
}

// CommandRasterizer shells out to poppler's pdftoppm, converting Word
// documents to PDF with LibreOffice first.
type CommandRasterizer struct {
	Pdftoppm string // default "pdftoppm"
	Soffice  string // default "soffice"
	DPI      int    // default 100
}

func (r CommandRasterizer) pdftoppm() string {
	if r.Pdftoppm == "" {
		return "pdftoppm"
	}
	return r.Pdftoppm
}

func (r CommandRasterizer) soffice() string {
	if r.Soffice == "" {
		return "soffice"
	}
	return r.Soffice
}

// Binaries lists the external tools this rasterizer needs.
func (r CommandRasterizer) Binaries() []string {
	return []string{r.pdftoppm(), r.soffice()}
}

func (r CommandRasterizer) Rasterize(ctx context.Context, name string, data []byte) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "threadbot-doc-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// Only the extension of the user-supplied name is trusted.
	src := filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(name)))
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	pdf := src
	if Classify(name) == KindWord {
		if err := run(ctx, r.soffice(), "--headless", "--convert-to", "pdf", "--outdir", dir, src); err != nil {
			return nil, fmt.Errorf("convert to pdf: %w", err)
		}
		pdf = filepath.Join(dir, "input.pdf")
	}

	dpi := r.DPI
	if dpi <= 0 {
		dpi = 100
	}
	prefix := filepath.Join(dir, "page")
	if err := run(ctx, r.pdftoppm(), "-png", "-r", strconv.Itoa(dpi), pdf, prefix); err != nil {
		return nil, fmt.Errorf("rasterize pdf: %w", err)
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("rasterize pdf: no pages produced")
	}
	slices.SortFunc(matches, media.NaturalCompare)

	pages := make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("read page: %w", err)
		}
		pages = append(pages, b)
	}
	return pages, nil
}

func run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (stderr: %s)", filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CheckBinaries reports which of bins are missing from PATH.
func CheckBinaries(bins ...string) []string {
	var missing []string
	for _, b := range bins {
		if _, err := exec.LookPath(b); err != nil {
			missing = append(missing, b)
		}
	}
	return missing
}
