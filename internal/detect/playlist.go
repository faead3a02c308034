package detect

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Variant is one entry of an HLS master playlist.
type Variant struct {
	URI       string
	Bandwidth int
	Width     int
	Height    int
	FrameRate float64
	Codecs    string
	Name      string
}

var resInName = regexp.MustCompile(`(\d+)p`)
var fpsInName = regexp.MustCompile(`p(\d+)`)

// height resolves the variant's vertical resolution, falling back to the name
// ("1080p60") and finally to a bandwidth estimate.
func (v Variant) height() int {
	if v.Height > 0 {
		return v.Height
	}
	if m := resInName.FindStringSubmatch(strings.ToLower(v.Name)); m != nil {
		h, _ := strconv.Atoi(m[1])
		return h
	}
	return v.Bandwidth / 1_000_000
}

func (v Variant) framerate() float64 {
	if v.FrameRate > 0 {
		return v.FrameRate
	}
	if m := fpsInName.FindStringSubmatch(strings.ToLower(v.Name)); m != nil {
		f, _ := strconv.Atoi(m[1])
		return float64(f)
	}
	return 0
}

// IsMasterPlaylist reports whether content is an HLS master playlist rather
// than a media playlist.
func IsMasterPlaylist(content string) bool {
	return strings.Contains(content, "#EXT-X-STREAM-INF:")
}

// ParseMaster extracts the variants of a master playlist. Relative variant
// URIs are resolved against base. Malformed entries are skipped.
func ParseMaster(base *url.URL, content string) []Variant {
	var out []Variant
	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		v := parseStreamInf(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))

		// The URI is the next non-blank, non-tag line.
		for i+1 < len(lines) {
			i++
			uri := strings.TrimSpace(lines[i])
			if uri == "" || strings.HasPrefix(uri, "#") {
				continue
			}
			v.URI = resolveURI(base, uri)
			break
		}
		if v.URI == "" {
			continue
		}
		if v.Name == "" {
			v.Name = variantName(v)
		}
		out = append(out, v)
	}
	return out
}

func parseStreamInf(attrs string) Variant {
	var v Variant
	for _, kv := range splitAttrs(attrs) {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		val = strings.Trim(val, `"`)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "BANDWIDTH":
			v.Bandwidth, _ = strconv.Atoi(val)
		case "RESOLUTION":
			if w, h, ok := strings.Cut(strings.ToLower(val), "x"); ok {
				v.Width, _ = strconv.Atoi(w)
				v.Height, _ = strconv.Atoi(h)
			}
		case "FRAME-RATE":
			v.FrameRate, _ = strconv.ParseFloat(val, 64)
		case "CODECS":
			v.Codecs = val
		case "VIDEO", "NAME":
			if v.Name == "" {
				v.Name = val
			}
		}
	}
	return v
}

// splitAttrs splits an attribute list on commas while respecting quoted
// values (CODECS="avc1.4d402a,mp4a.40.2").
func splitAttrs(s string) []string {
	var parts []string
	var b strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			b.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

func variantName(v Variant) string {
	if v.Height == 0 {
		return "variant"
	}
	name := strconv.Itoa(v.Height) + "p"
	if fps := int(v.FrameRate); fps > 30 {
		name += strconv.Itoa(fps)
	}
	return name
}

func resolveURI(base *url.URL, uri string) string {
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// SelectVariant picks the variant best matching the requested resolution and
// framerate, with a cascade of fallbacks:
//  1. "source" takes the highest quality available
//  2. exact resolution and framerate
//  3. exact resolution, highest framerate
//  4. the best variant below the requested resolution
//  5. the highest quality available
func SelectVariant(variants []Variant, resolution, framerate string) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}

	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if hi, hj := sorted[i].height(), sorted[j].height(); hi != hj {
			return hi > hj
		}
		return sorted[i].framerate() > sorted[j].framerate()
	})

	resStr := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(resolution)), "p")
	if resStr == "source" || resStr == "best" {
		return sorted[0], true
	}
	targetHeight, err := strconv.Atoi(resStr)
	if err != nil {
		targetHeight = 1080
	}

	targetFPS, _ := strconv.ParseFloat(strings.TrimSpace(framerate), 64)

	heightMatches := func(v Variant) bool {
		d := v.height() - targetHeight
		return d > -10 && d < 10
	}

	if targetFPS > 0 {
		for _, v := range sorted {
			d := v.framerate() - targetFPS
			if heightMatches(v) && d > -5 && d < 5 {
				return v, true
			}
		}
	}

	for _, v := range sorted {
		if heightMatches(v) {
			// Sorted by framerate within equal heights, so the first hit is
			// the highest framerate at this resolution.
			return v, true
		}
	}

	for _, v := range sorted {
		if v.height() < targetHeight {
			return v, true
		}
	}

	return sorted[0], true
}
