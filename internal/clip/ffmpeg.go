package clip

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Job is one ffmpeg re-encode.
type Job struct {
	Input  string
	Output string
	Start  time.Duration
	Length time.Duration // zero encodes to the end of the input

	Width     int // output width; height keeps the aspect ratio
	CRF       int
	BitrateK  int    // target video bitrate in kbit/s, zero for pure CRF
	AudioK    int    // mono AAC bitrate in kbit/s, zero keeps ffmpeg's default audio
	Watermark string // burned into the bottom centre when set
}

// Encoder re-encodes video files.
type Encoder interface {
	Encode(ctx context.Context, job Job) error
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	Path string // default "ffmpeg"
	Font string // optional font file for the watermark
}

func (f FFmpeg) path() string {
	if f.Path == "" {
		return "ffmpeg"
	}
	return f.Path
}

// Binaries lists the external tools this encoder needs.
func (f FFmpeg) Binaries() []string { return []string{f.path()} }

func (f FFmpeg) Encode(ctx context.Context, job Job) error {
	cmd := exec.CommandContext(ctx, f.path(), f.args(job)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, tail(stderr.String(), 400))
	}
	return nil
}

// Duration reads the container duration from ffmpeg's input banner. ffmpeg
// exits non-zero without an output file, so only the banner matters.
func (f FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.path(), "-hide_banner", "-i", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return parseDuration(stderr.String())
}

func (f FFmpeg) args(j Job) []string {
	args := []string{"-hide_banner", "-y"}
	if j.Start > 0 {
		args = append(args, "-ss", seconds(j.Start))
	}
	args = append(args, "-i", j.Input)
	if j.Length > 0 {
		args = append(args, "-t", seconds(j.Length))
	}

	vf := fmt.Sprintf("scale=%d:-2", j.Width)
	if j.Watermark != "" {
		vf += "," + f.drawtext(j.Watermark)
	}
	args = append(args, "-vf", vf, "-c:v", "libx264", "-preset", "ultrafast", "-crf", strconv.Itoa(j.CRF))
	if j.BitrateK > 0 {
		args = append(args,
			"-b:v", kbps(j.BitrateK),
			"-maxrate", kbps(j.BitrateK*3/2),
			"-bufsize", kbps(j.BitrateK*3),
		)
	}
	if j.AudioK > 0 {
		args = append(args, "-c:a", "aac", "-b:a", kbps(j.AudioK), "-ac", "1", "-ar", "22050")
	}
	return append(args, "-movflags", "+faststart", "-pix_fmt", "yuv420p", "-f", "mp4", j.Output)
}

var drawtextQuote = strings.NewReplacer(`'`, "", `\`, "")

func (f FFmpeg) drawtext(text string) string {
	opts := []string{"text='" + drawtextQuote.Replace(text) + "'", "expansion=none"}
	if f.Font != "" {
		opts = append(opts, "fontfile='"+drawtextQuote.Replace(filepath.ToSlash(f.Font))+"'")
	}
	opts = append(opts,
		"fontsize=24", "fontcolor=white@0.8",
		"box=1", "boxcolor=black@0.5", "boxborderw=5",
		"x=(w-tw)/2", "y=h-th-10",
	)
	return "drawtext=" + strings.Join(opts, ":")
}

var durationRe = regexp.MustCompile(`Duration: (\d{2}):(\d{2}):(\d{2}(?:\.\d+)?)`)

func parseDuration(banner string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(banner)
	if m == nil {
		return 0, fmt.Errorf("could not determine video duration")
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.ParseFloat(m[3], 64)
	d := time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(math.Round(secs*1000))*time.Millisecond
	if d <= 0 {
		return 0, fmt.Errorf("could not determine video duration")
	}
	return d, nil
}

func seconds(d time.Duration) string { return strconv.FormatFloat(d.Seconds(), 'f', 3, 64) }

func kbps(k int) string { return strconv.Itoa(k) + "k" }

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
