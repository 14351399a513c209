package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsImage(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		contentType string
		want        bool
	}{
		{"png", "page1.png", "", true},
		{"upper case jpg", "PHOTO.JPG", "", true},
		{"webp", "a.webp", "image/webp", true},
		{"tiff", "scan.tiff", "", true},
		{"pdf", "report.pdf", "application/pdf", false},
		{"svg not recognized", "logo.svg", "image/svg+xml", false},
		{"no extension falls back to content type", "blob", "image/png", true},
		{"no extension, no type", "blob", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsImage(tt.file, tt.contentType); got != tt.want {
				t.Errorf("IsImage(%q, %q) = %v, want %v", tt.file, tt.contentType, got, tt.want)
			}
		})
	}
}

func TestSort_NaturalOrder(t *testing.T) {
	items := []Item{
		{Name: "page2.png", Seq: 0},
		{Name: "page1.png", Seq: 1},
		{Name: "page10.png", Seq: 2},
	}
	got := names(Sort(items))
	want := []string{"page1.png", "page2.png", "page10.png"}
	if !equal(got, want) {
		t.Errorf("Sort = %v, want %v", got, want)
	}
	// input untouched
	if items[0].Name != "page2.png" {
		t.Errorf("Sort modified its input: %v", names(items))
	}
}

func TestSort_TiesKeepArrivalOrder(t *testing.T) {
	items := []Item{
		{Name: "scan.png", Seq: 2, MessageID: "c"},
		{Name: "scan.png", Seq: 0, MessageID: "a"},
		{Name: "scan.png", Seq: 1, MessageID: "b"},
	}
	got := Sort(items)
	for i, want := range []string{"a", "b", "c"} {
		if got[i].MessageID != want {
			t.Fatalf("position %d: got message %q, want %q", i, got[i].MessageID, want)
		}
	}
}

func TestNaturalCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"page1", "page10", -1},
		{"page2", "page10", -1},
		{"page10", "page2", 1},
		{"page_001", "page_002", -1},
		{"page1", "page01", -1},
		{"A.png", "b.png", -1},
		{"a", "ab", -1},
		{"same", "same", 0},
		{"img9z", "img10a", -1},
	}
	for _, tt := range tests {
		got := NaturalCompare(tt.a, tt.b)
		if sign(got) != tt.want {
			t.Errorf("NaturalCompare(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBytesSource_ReadOnce(t *testing.T) {
	src := BytesSource([]byte("hello"))

	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "hello" {
		t.Errorf("read %q, want %q", b, "hello")
	}

	if _, err := src.Open(context.Background()); !errors.Is(err, ErrSourceConsumed) {
		t.Errorf("second open error = %v, want ErrSourceConsumed", err)
	}
}

func TestURLSource_Cap(t *testing.T) {
	body := strings.Repeat("x", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked" {
			// Flushing before the end drops Content-Length.
			_, _ = io.WriteString(w, body[:50])
			w.(http.Flusher).Flush()
			_, _ = io.WriteString(w, body[50:])
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		path    string
		max     int64
		wantErr bool
	}{
		{"within cap", "/", 100, false},
		{"no cap", "/", 0, false},
		{"declared length over cap", "/", 10, true},
		{"streamed body over cap", "/chunked", 10, true},
		{"streamed body at cap", "/chunked", 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []byte
			rc, err := URLSource(srv.Client(), srv.URL+tt.path, tt.max).Open(context.Background())
			if err == nil {
				got, err = io.ReadAll(rc)
				rc.Close()
			}
			if tt.wantErr {
				if !errors.Is(err, ErrTooLarge) {
					t.Errorf("err = %v, want ErrTooLarge", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != body {
				t.Errorf("read %d bytes, want %d", len(got), len(body))
			}
		})
	}
}

func TestSniff(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 12, 7))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	h, err := Sniff(&buf)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if h.Format != "png" || h.Width != 12 || h.Height != 7 {
		t.Errorf("Sniff = %+v, want png 12x7", h)
	}

	if _, err := Sniff(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("Sniff of garbage should fail")
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"report.final.pdf": "report.final",
		"dir/page1.png":    "page1",
		"noext":            "noext",
		".hidden":          ".hidden",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func names(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
