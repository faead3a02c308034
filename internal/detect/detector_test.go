package detect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"streamvault/internal/capture"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

func TestDetectStreamFromPage(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		// The playlist URL is JSON-escaped the way players embed it, and a
		// tracking URL is mixed in to be skipped.
		fmt.Fprintf(w, `<script>var cfg = {"src":"%s\/live\/master.m3u8","beacon":"https://analytics.example.com/x.m3u8"};</script>`,
			srv.URL)
	})
	mux.HandleFunc("/live/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080\n1080/index.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720\n720/index.m3u8\n")
	})

	d := NewHTTP(srv.Client(), logx.Nop())
	res := d.DetectStream(context.Background(), srv.URL+"/watch", schedule.CaptureParams{Resolution: "720p"})
	if res.Outcome != capture.StreamFound {
		t.Fatalf("outcome = %v, reason %q", res.Outcome, res.Reason)
	}
	if want := srv.URL + "/live/720/index.m3u8"; res.StreamURL != want {
		t.Fatalf("StreamURL = %q, want %q", res.StreamURL, want)
	}
}

func TestDetectStreamDirectMediaPlaylist(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:6\nseg0.ts\n")
	}))
	defer srv.Close()

	d := NewHTTP(srv.Client(), logx.Nop())
	target := srv.URL + "/stream/index.m3u8"
	res := d.DetectStream(context.Background(), target, schedule.CaptureParams{})
	if res.Outcome != capture.StreamFound || res.StreamURL != target {
		t.Fatalf("direct playlist: %+v", res)
	}
}

func TestDetectStreamNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>nothing to see</body></html>")
	}))
	defer srv.Close()

	d := NewHTTP(srv.Client(), logx.Nop())
	res := d.DetectStream(context.Background(), srv.URL, schedule.CaptureParams{})
	if res.Outcome != capture.StreamNotFound {
		t.Fatalf("outcome = %v, want not found", res.Outcome)
	}
}

func TestDetectStreamPageError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTP(srv.Client(), logx.Nop())
	res := d.DetectStream(context.Background(), srv.URL, schedule.CaptureParams{})
	if res.Outcome != capture.DetectFailed || res.Reason == "" {
		t.Fatalf("outcome = %v, reason %q", res.Outcome, res.Reason)
	}
}

func TestExtractCandidatesOrdering(t *testing.T) {
	t.Parallel()
	body := `a https://x.example/v/chunk.m3u8 b https://x.example/v/master.m3u8 ` +
		`dup https://x.example/v/chunk.m3u8 skip https://tracking.example/t.m3u8`
	got := extractCandidates(body)
	if len(got) != 2 {
		t.Fatalf("candidates = %v", got)
	}
	if got[0] != "https://x.example/v/master.m3u8" {
		t.Fatalf("master must sort first: %v", got)
	}
}
