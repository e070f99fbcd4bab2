package monitor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind of a skippable segment.
type Kind int

const (
	Intro Kind = iota
	Outro
	Recap
	Commercial
	Preview
)

var kindNames = [...]string{"intro", "outro", "recap", "commercial", "preview"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String, case-insensitive.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("monitor: unknown segment kind %q", s)
}

// Segment is a skippable range [Start, End) in seconds.
type Segment struct {
	Kind  Kind
	Start float64
	End   float64
}

func (s Segment) contains(t float64) bool {
	return t >= s.Start && t < s.End
}

var (
	ErrInvalidSegment      = errors.New("monitor: segment end must be after its start")
	ErrOverlappingSegments = errors.New("monitor: segments overlap")
)

// normalizeSegments returns segs sorted by start, or an error when any
// segment is inverted or two of them overlap.
func normalizeSegments(segs []Segment) ([]Segment, error) {
	out := append([]Segment(nil), segs...)
	for _, s := range out {
		if s.Start < 0 || s.End <= s.Start {
			return nil, fmt.Errorf("%w: %s [%v, %v)", ErrInvalidSegment, s.Kind, s.Start, s.End)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := 1; i < len(out); i++ {
		if out[i].Start < out[i-1].End {
			return nil, fmt.Errorf("%w: %s and %s", ErrOverlappingSegments, out[i-1].Kind, out[i].Kind)
		}
	}
	return out, nil
}
