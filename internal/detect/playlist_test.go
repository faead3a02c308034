package detect

import (
	"net/url"
	"testing"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1920x1080,FRAME-RATE=60.000,CODECS="avc1.4d402a,mp4a.40.2"
1080p60/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=4500000,RESOLUTION=1920x1080,FRAME-RATE=30.000
1080p30/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1280x720,FRAME-RATE=60.000
720p60/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=854x480
https://cdn.example.com/live/480p/index.m3u8
`

func parseFixture(t *testing.T) []Variant {
	t.Helper()
	base, _ := url.Parse("https://cdn.example.com/live/master.m3u8")
	vs := ParseMaster(base, masterPlaylist)
	if len(vs) != 4 {
		t.Fatalf("ParseMaster returned %d variants, want 4", len(vs))
	}
	return vs
}

func TestParseMaster(t *testing.T) {
	t.Parallel()
	vs := parseFixture(t)

	top := vs[0]
	if top.Bandwidth != 6000000 || top.Width != 1920 || top.Height != 1080 || top.FrameRate != 60 {
		t.Fatalf("first variant: %+v", top)
	}
	// Quoted codec list must survive the comma inside the quotes.
	if top.Codecs != "avc1.4d402a,mp4a.40.2" {
		t.Fatalf("codecs = %q", top.Codecs)
	}
	if top.Name != "1080p60" {
		t.Fatalf("derived name = %q", top.Name)
	}

	// Relative URIs resolve against the master's URL, absolute ones pass
	// through.
	if vs[0].URI != "https://cdn.example.com/live/1080p60/index.m3u8" {
		t.Fatalf("resolved URI = %q", vs[0].URI)
	}
	if vs[3].URI != "https://cdn.example.com/live/480p/index.m3u8" {
		t.Fatalf("absolute URI = %q", vs[3].URI)
	}
}

func TestIsMasterPlaylist(t *testing.T) {
	t.Parallel()
	if !IsMasterPlaylist(masterPlaylist) {
		t.Fatal("master playlist not recognized")
	}
	if IsMasterPlaylist("#EXTM3U\n#EXT-X-TARGETDURATION:6\nseg0.ts\n") {
		t.Fatal("media playlist misclassified as master")
	}
}

func TestSelectVariant(t *testing.T) {
	t.Parallel()
	vs := parseFixture(t)

	tests := []struct {
		name       string
		resolution string
		framerate  string
		wantName   string
	}{
		{"source takes best", "source", "", "1080p60"},
		{"exact resolution and framerate", "1080p", "30", "1080p30"},
		{"exact resolution highest framerate", "720p", "", "720p60"},
		{"framerate tolerance", "1080p", "59.94", "1080p60"},
		{"no exact match falls to next lower", "900p", "", "720p60"},
		{"below every variant takes the highest", "144p", "", "1080p60"},
		{"unparseable defaults to 1080p", "potato", "", "1080p60"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			v, ok := SelectVariant(vs, tt.resolution, tt.framerate)
			if !ok {
				t.Fatal("SelectVariant found nothing")
			}
			if v.Name != tt.wantName {
				t.Fatalf("selected %q, want %q", v.Name, tt.wantName)
			}
		})
	}

	if _, ok := SelectVariant(nil, "1080p", ""); ok {
		t.Fatal("empty variant list must report no match")
	}
}

func TestVariantFallbacks(t *testing.T) {
	t.Parallel()
	// No RESOLUTION attribute: height comes from the name, then bandwidth.
	named := Variant{Name: "720p30", Bandwidth: 3_000_000}
	if named.height() != 720 {
		t.Fatalf("height from name = %d", named.height())
	}
	if named.framerate() != 30 {
		t.Fatalf("framerate from name = %v", named.framerate())
	}
	bare := Variant{Bandwidth: 5_500_000}
	if bare.height() != 5 {
		t.Fatalf("bandwidth height estimate = %d", bare.height())
	}
}
