package castprotocol

import "github.com/vishen/go-chromecast/cast"

const (
	metadataGeneric = 0
	metadataMovie   = 1
)

// MediaItem is the media block of a LOAD request. cast.MediaItem always
// sends a zero duration, which some receivers take literally.
type MediaItem struct {
	ContentId   string     `json:"contentId"`
	ContentType string     `json:"contentType"`
	StreamType  string     `json:"streamType"`
	Duration    float64    `json:"duration,omitempty"`
	Metadata    *MediaMeta `json:"metadata,omitempty"`
}

// MediaMeta contains the display metadata shown by the receiver.
type MediaMeta struct {
	MetadataType int          `json:"metadataType"`
	Title        string       `json:"title,omitempty"`
	Subtitle     string       `json:"subtitle,omitempty"`
	Images       []cast.Image `json:"images,omitempty"`
}

// LoadRequest is everything the receiver needs to start a stream.
type LoadRequest struct {
	URL         string
	ContentType string
	Title       string
	Subtitle    string
	PosterURL   string
	// StartTime is the position in seconds playback begins at.
	StartTime float64
	Duration  float64
	Live      bool
}

func (r LoadRequest) mediaItem() MediaItem {
	item := MediaItem{
		ContentId:   r.URL,
		ContentType: r.ContentType,
		StreamType:  "BUFFERED",
		Duration:    r.Duration,
	}
	if r.Live {
		item.StreamType = "LIVE"
		item.Duration = 0
	}

	if r.Title == "" && r.Subtitle == "" && r.PosterURL == "" {
		return item
	}

	meta := &MediaMeta{
		MetadataType: metadataGeneric,
		Title:        r.Title,
		Subtitle:     r.Subtitle,
	}
	if r.PosterURL != "" {
		meta.MetadataType = metadataMovie
		meta.Images = []cast.Image{{URL: r.PosterURL}}
	}
	item.Metadata = meta
	return item
}
