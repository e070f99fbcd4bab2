// Package stream maps a media item and a track selection to a playable
// stream descriptor. Nothing in here performs I/O.
package stream

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
)

const (
	paramAudio          = "audioIndex"
	paramSubtitle       = "subtitleIndex"
	paramBitrateCeiling = "bitrateCeiling"
	paramAPIKey         = "api_key"

	defaultStreamPath = "stream"
	defaultContainer  = "mp4"
	hlsContentType    = "application/x-mpegURL"
)

// Track is an optional track index. The zero value means "let the server
// pick its default track", which the media endpoint treats differently
// from an explicit index 0.
type Track struct {
	index int
	set   bool
}

// DefaultTrack leaves the track choice to the server.
var DefaultTrack = Track{}

// TrackIndex selects the track with the given index.
func TrackIndex(i int) Track {
	return Track{index: i, set: true}
}

// Index returns the selected index and whether one was selected at all.
func (t Track) Index() (int, bool) {
	return t.index, t.set
}

func (t Track) String() string {
	if !t.set {
		return "default"
	}
	return strconv.Itoa(t.index)
}

// Quality is either Auto or a bitrate ceiling in bytes per second.
type Quality struct {
	ceiling int
}

// Auto lets the server pick the bitrate.
var Auto = Quality{}

// Tier caps the stream at the given bitrate. Non-positive values mean Auto.
func Tier(bitrateCeiling int) Quality {
	if bitrateCeiling <= 0 {
		return Auto
	}
	return Quality{ceiling: bitrateCeiling}
}

// Ceiling returns the bitrate ceiling, or 0 for Auto.
func (q Quality) Ceiling() int {
	return q.ceiling
}

// IsAuto reports whether no ceiling is set.
func (q Quality) IsAuto() bool {
	return q.ceiling == 0
}

func (q Quality) String() string {
	if q.IsAuto() {
		return "auto"
	}
	return strconv.Itoa(q.ceiling)
}

// Selection is the immutable audio/subtitle/quality choice for one item.
// Changing any part of it means building a new Descriptor.
type Selection struct {
	Audio    Track
	Subtitle Track
	Quality  Quality
}

// WithAudio returns a copy of s using the given audio track.
func (s Selection) WithAudio(t Track) Selection {
	s.Audio = t
	return s
}

// WithSubtitle returns a copy of s using the given subtitle track.
func (s Selection) WithSubtitle(t Track) Selection {
	s.Subtitle = t
	return s
}

// WithQuality returns a copy of s using the given quality.
func (s Selection) WithQuality(q Quality) Selection {
	s.Quality = q
	return s
}

// Display is the human-facing metadata shown by a player.
type Display struct {
	Title        string
	SubtitleLine string
	PosterURL    string
}

// Descriptor is everything a player needs to start or reload a stream.
type Descriptor struct {
	URL           string
	Title         string
	SubtitleLine  string
	PosterURL     string
	ResumeSeconds float64
	ContentType   string
}

// Builder builds descriptors against one media endpoint.
type Builder struct {
	base        url.URL
	streamPath  string
	apiKey      string
	contentType string
}

// Options configures a Builder.
type Options struct {
	// StreamPath is joined between the base URL and the item id.
	StreamPath string
	// Container is the file extension the endpoint serves, e.g. "mp4".
	Container string
	// APIKey is appended as a static query parameter when set.
	APIKey string
}

// NewBuilder parses the endpoint base URL once so that Build cannot fail.
func NewBuilder(baseURL string, opts Options) (*Builder, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: baseURL, Err: errMissingHost}
	}

	streamPath := strings.Trim(opts.StreamPath, "/")
	if streamPath == "" {
		streamPath = defaultStreamPath
	}

	return &Builder{
		base:        *u,
		streamPath:  streamPath,
		apiKey:      opts.APIKey,
		contentType: ContentType(opts.Container),
	}, nil
}

type builderError string

func (e builderError) Error() string { return string(e) }

const errMissingHost = builderError("base URL needs a scheme and a host")

// Build is deterministic: equal inputs always give byte-identical output.
// Unset tracks and Auto quality are omitted from the query.
func (b *Builder) Build(itemID string, sel Selection, resumeSeconds float64, display Display) Descriptor {
	u := b.base
	u.Path = path.Join("/", b.base.Path, b.streamPath, itemID)
	u.RawPath = path.Join("/", b.base.EscapedPath(), b.streamPath, url.PathEscape(itemID))

	q := url.Values{}
	if i, ok := sel.Audio.Index(); ok {
		q.Set(paramAudio, strconv.Itoa(i))
	}
	if i, ok := sel.Subtitle.Index(); ok {
		q.Set(paramSubtitle, strconv.Itoa(i))
	}
	if !sel.Quality.IsAuto() {
		q.Set(paramBitrateCeiling, strconv.Itoa(sel.Quality.Ceiling()))
	}
	if b.apiKey != "" {
		q.Set(paramAPIKey, b.apiKey)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""

	if resumeSeconds < 0 {
		resumeSeconds = 0
	}

	return Descriptor{
		URL:           u.String(),
		Title:         display.Title,
		SubtitleLine:  display.SubtitleLine,
		PosterURL:     display.PosterURL,
		ResumeSeconds: resumeSeconds,
		ContentType:   b.contentType,
	}
}

// ContentType maps a container extension to a MIME type.
func ContentType(container string) string {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(container), "."))
	if ext == "" {
		ext = defaultContainer
	}
	if ext == "m3u8" {
		return hlsContentType
	}

	kind := filetype.GetType(ext)
	if kind == filetype.Unknown || kind.MIME.Value == "" {
		return filetype.GetType(defaultContainer).MIME.Value
	}
	return kind.MIME.Value
}
