package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"go2tv.app/handoff/internal/monitor"
	"go2tv.app/handoff/internal/playback"
	"go2tv.app/handoff/internal/stream"
)

// catalogEntry is one item in the -segments file.
type catalogEntry struct {
	Title    string           `json:"title"`
	Subtitle string           `json:"subtitle"`
	Poster   string           `json:"poster"`
	Duration float64          `json:"duration"`
	Segments []catalogSegment `json:"segments"`
}

type catalogSegment struct {
	Kind  string  `json:"kind"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// catalog maps item ids to what the CLI knows about them.
type catalog map[string]catalogEntry

func loadCatalog(path string) (catalog, error) {
	if path == "" {
		return catalog{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loadCatalog read error: %w", err)
	}

	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("loadCatalog decode error: %w", err)
	}

	for id, e := range c {
		for _, s := range e.Segments {
			if _, err := monitor.ParseKind(s.Kind); err != nil {
				return nil, fmt.Errorf("loadCatalog item %q: %w", id, err)
			}
		}
	}
	return c, nil
}

func (c catalog) segments(id string) []monitor.Segment {
	e := c[id]
	out := make([]monitor.Segment, 0, len(e.Segments))
	for _, s := range e.Segments {
		// Kinds were checked by loadCatalog.
		k, _ := monitor.ParseKind(s.Kind)
		out = append(out, monitor.Segment{Kind: k, Start: s.Start, End: s.End})
	}
	return out
}

// queue plays the item ids in order.
type queue struct {
	mu      sync.Mutex
	ids     []string
	catalog catalog
	sel     stream.Selection
}

func newQueue(first string, next string, c catalog, sel stream.Selection) *queue {
	ids := []string{first}
	for _, id := range strings.Split(next, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return &queue{ids: ids, catalog: c, sel: sel}
}

// item builds the playable item at index i.
func (q *queue) item(i int) playback.Item {
	id := q.ids[i]
	e := q.catalog[id]
	title := e.Title
	if title == "" {
		title = id
	}
	return playback.Item{
		ID:        id,
		Selection: q.sel,
		Duration:  e.Duration,
		Display: stream.Display{
			Title:        title,
			SubtitleLine: e.Subtitle,
			PosterURL:    e.Poster,
		},
		Segments: q.catalog.segments(id),
		HasNext:  i+1 < len(q.ids),
	}
}

func (q *queue) first() playback.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.item(0)
}

// next is the playback.NextItemFunc of the queue. Follow-up items start
// from the beginning with the first item's track selection.
func (q *queue) next(_ context.Context, current string) (playback.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.ids {
		if id == current && i+1 < len(q.ids) {
			return q.item(i + 1), true
		}
	}
	return playback.Item{}, false
}
