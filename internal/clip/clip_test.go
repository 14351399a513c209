package clip

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridzer0/threadbot/internal/media"
)

// fakeEncoder writes outputs whose size is chosen per job.
type fakeEncoder struct {
	mu       sync.Mutex
	jobs     []Job
	size     func(Job) int
	duration time.Duration
	err      error
}

func (f *fakeEncoder) Encode(_ context.Context, j Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, j)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(j.Output, bytes.Repeat([]byte{'v'}, f.size(j)), 0o600)
}

func (f *fakeEncoder) Duration(context.Context, string) (time.Duration, error) {
	return f.duration, nil
}

func names(items []media.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestIsClip(t *testing.T) {
	for name, want := range map[string]bool{
		"a.mp4": true, "B.MOV": true, "c.mkv": false, "mp4": false, "d.mp4.png": false,
	} {
		assert.Equal(t, want, IsClip(name), name)
	}
}

func TestClips_SingleFileWhenSmall(t *testing.T) {
	enc := &fakeEncoder{size: func(Job) int { return 50 }}
	c := NewConverter(enc, Config{UploadLimit: 100, SegmentTarget: 40, Watermark: "Confidential"})

	items, err := c.Clips(context.Background(), "Team Demo.MOV", strings.NewReader("raw video"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Team Demo.mp4"}, names(items))
	assert.Equal(t, "video/mp4", items[0].ContentType)
	require.Len(t, enc.jobs, 1)
	j := enc.jobs[0]
	assert.Equal(t, "Confidential", j.Watermark)
	assert.Equal(t, 854, j.Width)
	assert.Equal(t, 32, j.CRF)
	assert.Equal(t, maxBitrateK, j.BitrateK, "tiny inputs clamp to the highest bitrate")
	assert.True(t, strings.HasSuffix(j.Input, "input.mov"))
}

func TestClips_SplitsOversizeOutput(t *testing.T) {
	enc := &fakeEncoder{
		duration: 60 * time.Second,
		size: func(j Job) int {
			if j.Length == 0 && j.Watermark != "" {
				return 500 // single pass overshoots
			}
			return 30
		},
	}
	c := NewConverter(enc, Config{UploadLimit: 100, SegmentTarget: 40, Watermark: "wm"})

	items, err := c.Clips(context.Background(), "demo.mp4", strings.NewReader("raw"))
	require.NoError(t, err)

	require.Len(t, items, minSegments)
	assert.Equal(t, "demo_part1of6.mp4", items[0].Name)
	assert.Equal(t, "demo_part6of6.mp4", items[5].Name)

	parts := enc.jobs[1:]
	require.Len(t, parts, minSegments)
	for i, j := range parts {
		assert.Equal(t, time.Duration(i)*10*time.Second, j.Start)
		assert.Equal(t, 10*time.Second, j.Length)
		assert.Equal(t, "wm", j.Watermark)
		assert.Equal(t, 64, j.AudioK)
	}
}

func TestClips_RecompressesLargeParts(t *testing.T) {
	enc := &fakeEncoder{
		duration: time.Minute,
		size: func(j Job) int {
			switch {
			case j.Length == 0 && j.Watermark != "":
				return 500
			case j.CRF == 38:
				return 45 // still above target
			case j.CRF == 42:
				return 20
			}
			return 90
		},
	}
	c := NewConverter(enc, Config{UploadLimit: 100, SegmentTarget: 40, Watermark: "wm"})

	items, err := c.Clips(context.Background(), "demo.mp4", strings.NewReader("raw"))
	require.NoError(t, err)
	require.Len(t, items, minSegments)
	assert.Equal(t, int64(20), items[0].Size)

	var passes []int
	for _, j := range enc.jobs {
		if j.CRF >= 38 {
			passes = append(passes, j.CRF)
			assert.Empty(t, j.Watermark, "recompression keeps the existing watermark")
		}
	}
	assert.Len(t, passes, 2*minSegments)
}

func TestClips_PartAboveUploadLimitFails(t *testing.T) {
	enc := &fakeEncoder{duration: time.Minute, size: func(Job) int { return 500 }}
	c := NewConverter(enc, Config{UploadLimit: 100, SegmentTarget: 40})

	_, err := c.Clips(context.Background(), "demo.mp4", strings.NewReader("raw"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "part 1")
}

func TestClips_RejectsOversizeInput(t *testing.T) {
	enc := &fakeEncoder{size: func(Job) int { return 1 }}
	c := NewConverter(enc, Config{MaxBytes: 4})

	_, err := c.Clips(context.Background(), "demo.mp4", strings.NewReader("too long"))
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, enc.jobs)
}

func TestClips_EncodeFailure(t *testing.T) {
	enc := &fakeEncoder{err: errors.New("exit status 1")}
	c := NewConverter(enc, Config{})

	_, err := c.Clips(context.Background(), "demo.mp4", strings.NewReader("raw"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode demo.mp4")
}

func TestSegmentCount(t *testing.T) {
	c := NewConverter(nil, Config{})
	tests := []struct {
		name  string
		size  int64
		total time.Duration
		want  int
	}{
		{"small short", 10 << 20, 2 * time.Minute, 6},
		{"size driven", 96 << 20, 2 * time.Minute, 12},
		{"size capped", 400 << 20, 2 * time.Minute, 15},
		{"long footage", 30 << 20, 51 * time.Minute, 17},
		{"hard cap", 30 << 20, 3 * time.Hour, DefaultMaxSegments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.segmentCount(tt.size, tt.total))
		})
	}
}

func TestBitrateFor(t *testing.T) {
	assert.Equal(t, 400, bitrateFor(1<<20))
	assert.Equal(t, 204, bitrateFor(20<<20))
	assert.Equal(t, 150, bitrateFor(100<<20))
}

func TestClaim(t *testing.T) {
	c := NewConverter(nil, Config{})
	assert.True(t, c.Claim("att-1"))
	assert.False(t, c.Claim("att-1"))
	assert.True(t, c.Claim("att-2"))
}

func TestCheckSize(t *testing.T) {
	c := NewConverter(nil, Config{})
	require.NoError(t, c.CheckSize(DefaultMaxBytes))
	err := c.CheckSize(DefaultMaxBytes + 1)
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "max 500 MiB")
}
