package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const maxLabelLen = 50

// SanitizeLabel keeps [A-Za-z0-9._-], truncates to 50 characters and falls back to "unknown".
func SanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
		if b.Len() >= maxLabelLen {
			break
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// Debugger saves a screenshot, the page HTML and a short metadata file.
// A nil or dir-less Debugger does nothing. Every failure is logged and swallowed.
type Debugger struct {
	Dir string
	now func() time.Time
}

// Capture writes <ts>_<label>.png, .html and _meta.txt for the page behind ctx.
func (d *Debugger) Capture(ctx context.Context, label string) {
	if d == nil || d.Dir == "" {
		return
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		slog.Warn("Failed to create debug dir", "dir", d.Dir, "error", err)
		return
	}

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	stamp := now().Format("20060102_150405")
	safe := SanitizeLabel(label)
	base := filepath.Join(d.Dir, stamp+"_"+safe)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var shot []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&shot, 90)); err != nil {
		slog.Warn("Failed to save debug screenshot", "error", err)
	} else if err := os.WriteFile(base+".png", shot, 0o644); err != nil {
		slog.Warn("Failed to save debug screenshot", "error", err)
	}

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		slog.Warn("Failed to save debug HTML", "error", err)
	} else if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		slog.Warn("Failed to save debug HTML", "error", err)
	}

	url := "unknown"
	_ = chromedp.Run(ctx, chromedp.Location(&url))
	meta := fmt.Sprintf("Timestamp: %s\nLabel: %s\nSafeLabel: %s\nURL: %s\n", stamp, label, safe, url)
	if err := os.WriteFile(base+"_meta.txt", []byte(meta), 0o644); err != nil {
		slog.Warn("Failed to save debug metadata", "error", err)
	}
}
