package devices

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/alexballas/go-ssdp"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go2tv.app/handoff/soapcalls"
)

// Device types.
const (
	DeviceTypeChromecast = "Chromecast"
	DeviceTypeDLNA       = "DLNA"
)

var (
	ErrNoDeviceAvailable  = errors.New("devices: no available receivers")
	ErrDeviceNotAvailable = errors.New("devicePicker: requested device not available")
)

// Device is a receiver found on the local network.
type Device struct {
	// ID is stable across restarts: the cast "id" TXT field or the UPnP UDN.
	ID   string
	Name string
	// Addr is host:port for Chromecast and the description URL for DLNA.
	Addr        string
	Type        string
	IsAudioOnly bool
	// ControlURL is the AVTransport control endpoint of DLNA renderers.
	ControlURL string
}

const descriptionFetchers = 4

var (
	descriptionClientOnce sync.Once
	descriptionClient     *http.Client

	ssdpSearch = ssdp.Search

	loadDeviceFromLocation = func(ctx context.Context, location string) (*soapcalls.DMRextracted, error) {
		descriptionClientOnce.Do(func() {
			descriptionClient = soapcalls.NewRetryableHTTPClient(1)
		})
		return soapcalls.DMRextractor(ctx, descriptionClient, location)
	}
)

// LoadSSDPservices searches for UPnP media renderers for delay seconds and
// returns the ones that expose an AVTransport service. Locations listed in
// skip are not fetched again.
func LoadSSDPservices(ctx context.Context, delay int, skip map[string]bool) ([]Device, error) {
	list, err := ssdpSearch(ssdp.All, delay, "")
	if err != nil {
		return nil, fmt.Errorf("LoadSSDPservices search error: %w", err)
	}

	locations := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, srv := range list {
		if srv.Location == "" || seen[srv.Location] || skip[srv.Location] {
			continue
		}
		seen[srv.Location] = true
		locations = append(locations, srv.Location)
	}

	var (
		mu  sync.Mutex
		out []Device
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(descriptionFetchers)
	for _, loc := range locations {
		g.Go(func() error {
			dmr, err := loadDeviceFromLocation(gctx, loc)
			if err != nil {
				// Plenty of SSDP responders are not renderers.
				return nil
			}
			d := Device{
				ID:         dmr.UDN,
				Name:       dmr.FriendlyName,
				Addr:       loc,
				Type:       DeviceTypeDLNA,
				ControlURL: dmr.AvtransportControlURL,
			}
			if d.ID == "" {
				d.ID = loc
			}
			if d.Name == "" {
				d.Name = loc
			}
			mu.Lock()
			out = append(out, d)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 && len(skip) == 0 {
		return nil, ErrNoDeviceAvailable
	}

	sortDevices(out)
	return out, nil
}

// DevicePicker will pick the nth device (1-based, name order) from devs.
func DevicePicker(devs []Device, n int) (Device, error) {
	if n > len(devs) || len(devs) == 0 || n <= 0 {
		return Device{}, ErrDeviceNotAvailable
	}

	sorted := append([]Device(nil), devs...)
	sortDevices(sorted)
	return sorted[n-1], nil
}

// Match resolves a user supplied hint against devs: an exact ID, then an
// exact name, then a case-insensitive name substring. An empty hint picks
// the first device in name order.
func Match(devs []Device, hint string) (Device, error) {
	if len(devs) == 0 {
		return Device{}, ErrNoDeviceAvailable
	}

	sorted := append([]Device(nil), devs...)
	sortDevices(sorted)

	hint = strings.TrimSpace(hint)
	if hint == "" {
		return sorted[0], nil
	}

	for _, d := range sorted {
		if d.ID == hint || d.Addr == hint {
			return d, nil
		}
	}
	for _, d := range sorted {
		if strings.EqualFold(d.Name, hint) {
			return d, nil
		}
	}
	lower := strings.ToLower(hint)
	for _, d := range sorted {
		if strings.Contains(strings.ToLower(d.Name), lower) {
			return d, nil
		}
	}
	return Device{}, ErrDeviceNotAvailable
}

func sortDevices(devs []Device) {
	sort.SliceStable(devs, func(i, j int) bool {
		if devs[i].Name != devs[j].Name {
			return devs[i].Name < devs[j].Name
		}
		return devs[i].Addr < devs[j].Addr
	})
}
