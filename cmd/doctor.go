package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gridzer0/threadbot/internal/clip"
	"github.com/gridzer0/threadbot/internal/config"
	"github.com/gridzer0/threadbot/internal/document"
	"github.com/gridzer0/threadbot/internal/referral"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.OutOrStdout())
		},
	}
}

func runDoctor(w io.Writer) {
	config.LoadDotEnv()

	fmt.Fprintln(w, "threadbot doctor")
	fmt.Fprintf(w, "  Version:  %s\n", Version)
	fmt.Fprintf(w, "  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "  Go:       %s\n", runtime.Version())
	fmt.Fprintln(w)

	cfgPath := resolveConfigPath()
	fmt.Fprintf(w, "  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Fprintln(w, " (NOT FOUND, using defaults)")
	} else {
		fmt.Fprintln(w, " (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(w, "  Config load error: %s\n", err)
		return
	}
	fmt.Fprintf(w, "  Hash:     %s\n", cfg.Hash())

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Credentials:")
	checkSecret(w, "Discord", cfg.Discord.Token)
	checkSecret(w, "YouTube", cfg.YouTube.APIKey)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Features:")
	checkFeature(w, "Documents", cfg.Documents.Enabled, true)
	checkFeature(w, "Videos", cfg.Video.Enabled, cfg.YouTube.APIKey != "")
	checkFeature(w, "Clips", cfg.Clips.Enabled, true)
	checkFeature(w, "Referrals", cfg.Referral.ChannelID != "", true)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Limits:")
	fmt.Fprintf(w, "    %-12s %s\n", "Image:", cfg.Delivery.MaxAttachmentSize)
	fmt.Fprintf(w, "    %-12s %s\n", "Document:", cfg.Documents.MaxBytes)
	fmt.Fprintf(w, "    %-12s %s\n", "Video:", cfg.Clips.MaxBytes)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  External Tools:")
	raster := document.CommandRasterizer{Pdftoppm: cfg.Documents.Pdftoppm, Soffice: cfg.Documents.Soffice}
	bins := append(raster.Binaries(), clip.FFmpeg{Path: cfg.Clips.FFmpeg}.Binaries()...)
	missing := document.CheckBinaries(bins...)
	for _, bin := range bins {
		status := "OK"
		for _, m := range missing {
			if m == bin {
				status = "NOT FOUND"
			}
		}
		fmt.Fprintf(w, "    %-12s %s\n", bin+":", status)
	}
	browser := cfg.Referral.Browser
	if browser == "" {
		if found, ok := referral.LookupBrowser(); ok {
			browser = found
		}
	}
	switch browser {
	case "":
		fmt.Fprintf(w, "    %-12s %s\n", "browser:", "NOT FOUND")
	case "off":
		fmt.Fprintf(w, "    %-12s %s\n", "browser:", "disabled")
	default:
		fmt.Fprintf(w, "    %-12s %s\n", "browser:", browser)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Doctor check complete.")
}

func checkSecret(w io.Writer, name, secret string) {
	if secret == "" {
		fmt.Fprintf(w, "    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Fprintf(w, "    %-12s %s\n", name+":", maskSecret(secret))
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func checkFeature(w io.Writer, name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Fprintf(w, "    %-12s %s\n", name+":", status)
}
