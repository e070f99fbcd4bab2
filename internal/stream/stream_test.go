package stream

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder("https://media.example.com/api", Options{Container: "mp4"})
	if err != nil {
		t.Fatalf("NewBuilder() err = %v, want nil", err)
	}
	return b
}

func TestBuildURLShape(t *testing.T) {
	b := newTestBuilder(t)

	tt := []struct {
		name string
		sel  Selection
		want string
	}{
		{
			"all defaults",
			Selection{},
			"https://media.example.com/api/stream/abc",
		},
		{
			"explicit index zero is kept",
			Selection{Audio: TrackIndex(0)},
			"https://media.example.com/api/stream/abc?audioIndex=0",
		},
		{
			"everything set",
			Selection{Audio: TrackIndex(1), Subtitle: TrackIndex(3), Quality: Tier(4000000)},
			"https://media.example.com/api/stream/abc?audioIndex=1&bitrateCeiling=4000000&subtitleIndex=3",
		},
		{
			"non positive tier is auto",
			Selection{Quality: Tier(0)},
			"https://media.example.com/api/stream/abc",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got := b.Build("abc", tc.sel, 0, Display{})
			if got.URL != tc.want {
				t.Fatalf("Build() url = %q, want %q", got.URL, tc.want)
			}
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := newTestBuilder(t)
	sel := Selection{Audio: TrackIndex(2), Subtitle: TrackIndex(1), Quality: Tier(8000000)}
	display := Display{Title: "Pilot", SubtitleLine: "S01E01", PosterURL: "https://img/1.jpg"}

	first := b.Build("item-1", sel, 12.5, display)
	for range 10 {
		if diff := cmp.Diff(first, b.Build("item-1", sel, 12.5, display)); diff != "" {
			t.Fatalf("Build() not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestBuildQualityOnlyChangesBitrateCeiling(t *testing.T) {
	b := newTestBuilder(t)
	display := Display{Title: "Pilot", SubtitleLine: "S01E01", PosterURL: "https://img/1.jpg"}

	bases := []Selection{
		{},
		{Audio: TrackIndex(0)},
		{Audio: TrackIndex(1), Subtitle: TrackIndex(4)},
		{Subtitle: TrackIndex(0)},
	}
	qualities := []Quality{Auto, Tier(1000000), Tier(20000000)}

	for _, base := range bases {
		for _, qa := range qualities {
			for _, qb := range qualities {
				a := b.Build("item", base.WithQuality(qa), 30, display)
				c := b.Build("item", base.WithQuality(qb), 30, display)

				ua, _ := url.Parse(a.URL)
				uc, _ := url.Parse(c.URL)
				va, vc := ua.Query(), uc.Query()
				va.Del(paramBitrateCeiling)
				vc.Del(paramBitrateCeiling)

				if ua.Scheme != uc.Scheme || ua.Host != uc.Host || ua.EscapedPath() != uc.EscapedPath() {
					t.Fatalf("quality change altered url base: %q vs %q", a.URL, c.URL)
				}
				if diff := cmp.Diff(va, vc); diff != "" {
					t.Fatalf("quality change altered other params (-a +b):\n%s", diff)
				}

				a.URL, c.URL = "", ""
				if diff := cmp.Diff(a, c); diff != "" {
					t.Fatalf("quality change altered descriptor fields (-a +b):\n%s", diff)
				}
			}
		}
	}
}

func TestBuildEscapesItemAndCarriesDisplay(t *testing.T) {
	b, err := NewBuilder("http://10.0.0.2:8096/", Options{StreamPath: "/Videos/", APIKey: "k1", Container: "mkv"})
	if err != nil {
		t.Fatalf("NewBuilder() err = %v, want nil", err)
	}

	got := b.Build("a b/c", Selection{Subtitle: TrackIndex(2)}, -4, Display{Title: "Movie"})
	want := Descriptor{
		URL:           "http://10.0.0.2:8096/Videos/a%20b%2Fc?api_key=k1&subtitleIndex=2",
		Title:         "Movie",
		ResumeSeconds: 0,
		ContentType:   "video/x-matroska",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewBuilderRejectsRelativeBase(t *testing.T) {
	if _, err := NewBuilder("/just/a/path", Options{}); err == nil {
		t.Fatalf("NewBuilder() err = nil, want error")
	}
}

func TestContentType(t *testing.T) {
	tt := []struct {
		in   string
		want string
	}{
		{"", "video/mp4"},
		{"mp4", "video/mp4"},
		{".WEBM", "video/webm"},
		{"m3u8", "application/x-mpegURL"},
		{"nonsense", "video/mp4"},
	}

	for _, tc := range tt {
		if got := ContentType(tc.in); got != tc.want {
			t.Errorf("ContentType(%q) got = %q, want %q", tc.in, got, tc.want)
		}
	}
}
