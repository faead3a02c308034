// Package detect locates a downloadable stream URL behind a target page.
//
// The HTTP detector fetches the page, scans it for HLS playlist URLs, and
// when the hit is a master playlist picks the variant closest to the
// schedule's capture preferences.
package detect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"streamvault/internal/capture"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

const (
	maxPageBytes     = 4 << 20
	maxPlaylistBytes = 1 << 20
	userAgent        = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// playlistURL matches absolute .m3u8 URLs embedded in page source, including
// JSON-escaped ones.
var playlistURL = regexp.MustCompile(`https?:(?:\\?/){2}(?:[^\s"'<>\\]|\\/)+?\.m3u8(?:[^\s"'<>\\]|\\/)*`)

// segment and tracking URLs are never the stream we want.
var skipKeywords = []string{"doubleclick", "analytics", "tracking"}

// HTTP probes target pages over plain HTTP.
type HTTP struct {
	client *http.Client
	log    logx.Logger
}

func NewHTTP(client *http.Client, log logx.Logger) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{client: client, log: log}
}

func (d *HTTP) DetectStream(ctx context.Context, pageURL string, params schedule.CaptureParams) capture.DetectResult {
	var candidates []string
	if isPlaylistURL(pageURL) {
		candidates = []string{pageURL}
	} else {
		body, err := d.fetch(ctx, pageURL, maxPageBytes)
		if err != nil {
			return capture.DetectResult{Outcome: capture.DetectFailed, Reason: fmt.Sprintf("fetch page: %v", err)}
		}
		candidates = extractCandidates(body)
	}
	if len(candidates) == 0 {
		return capture.DetectResult{Outcome: capture.StreamNotFound}
	}

	var lastErr error
	for _, cand := range candidates {
		content, err := d.fetch(ctx, cand, maxPlaylistBytes)
		if err != nil {
			lastErr = err
			continue
		}
		if !strings.Contains(content, "#EXTM3U") {
			continue
		}
		if !IsMasterPlaylist(content) {
			// Already a media playlist.
			return capture.DetectResult{Outcome: capture.StreamFound, StreamURL: cand}
		}

		base, _ := url.Parse(cand)
		variants := ParseMaster(base, content)
		v, ok := SelectVariant(variants, params.Resolution, params.Framerate)
		if !ok {
			// Master playlist with no parseable variants: hand the master URL
			// to the capturer and let it choose.
			return capture.DetectResult{Outcome: capture.StreamFound, StreamURL: cand}
		}
		d.log.Debug("selected variant",
			logx.String("name", v.Name),
			logx.Int("height", v.height()),
			logx.Float64("fps", v.framerate()))
		return capture.DetectResult{Outcome: capture.StreamFound, StreamURL: v.URI}
	}

	if lastErr != nil {
		return capture.DetectResult{Outcome: capture.DetectFailed, Reason: fmt.Sprintf("fetch playlist: %v", lastErr)}
	}
	return capture.DetectResult{Outcome: capture.StreamNotFound}
}

func (d *HTTP) fetch(ctx context.Context, rawURL string, limit int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// extractCandidates pulls playlist URLs out of a page body, de-duplicated and
// in document order, likely master playlists first.
func extractCandidates(body string) []string {
	seen := map[string]bool{}
	var masters, others []string
	for _, m := range playlistURL.FindAllString(body, -1) {
		u := strings.ReplaceAll(m, `\/`, "/")
		if seen[u] || !isPlaylistURL(u) {
			continue
		}
		seen[u] = true
		if likelyMaster(u) {
			masters = append(masters, u)
		} else {
			others = append(others, u)
		}
	}
	return append(masters, others...)
}

func isPlaylistURL(rawURL string) bool {
	u := strings.ToLower(rawURL)
	if !strings.Contains(u, ".m3u8") {
		return false
	}
	if strings.Contains(u, "/segment/") {
		return false
	}
	for _, kw := range skipKeywords {
		if strings.Contains(u, kw) {
			return false
		}
	}
	return true
}

func likelyMaster(rawURL string) bool {
	u := strings.ToLower(rawURL)
	return strings.Contains(u, "master") ||
		strings.Contains(u, "/playlist.m3u8") ||
		strings.Contains(u, "/index.m3u8")
}
