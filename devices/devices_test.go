package devices

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/alexballas/go-ssdp"
	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/mdns"

	"go2tv.app/handoff/soapcalls"
)

func stubSSDP(t *testing.T, services []ssdp.Service, load func(ctx context.Context, loc string) (*soapcalls.DMRextracted, error)) {
	t.Helper()
	origSearch := ssdpSearch
	origLoad := loadDeviceFromLocation
	t.Cleanup(func() {
		ssdpSearch = origSearch
		loadDeviceFromLocation = origLoad
	})

	ssdpSearch = func(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error) {
		return services, nil
	}
	loadDeviceFromLocation = load
}

func stubMDNS(t *testing.T, entries ...*mdns.ServiceEntry) {
	t.Helper()
	orig := mdnsQuery
	t.Cleanup(func() { mdnsQuery = orig })

	mdnsQuery = func(params *mdns.QueryParam) error {
		for _, e := range entries {
			params.Entries <- e
		}
		return nil
	}
}

func TestLoadSSDPservicesDetectsFromNonAVTransportST(t *testing.T) {
	stubSSDP(t, []ssdp.Service{
		{Type: ssdp.RootDevice, Location: "http://sonos.local:1400/xml/device_description.xml"},
		{Type: "urn:schemas-upnp-org:service:AVTransport:1", Location: "http://sonos.local:1400/xml/device_description.xml"},
	}, func(ctx context.Context, dmrurl string) (*soapcalls.DMRextracted, error) {
		if dmrurl != "http://sonos.local:1400/xml/device_description.xml" {
			t.Errorf("unexpected location: %s", dmrurl)
		}
		return &soapcalls.DMRextracted{
			FriendlyName:          "Sonos One",
			UDN:                   "uuid:RINCON_1",
			AvtransportControlURL: "http://sonos.local:1400/MediaRenderer/AVTransport/Control",
		}, nil
	})

	devs, err := LoadSSDPservices(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("LoadSSDPservices() err = %v, want nil", err)
	}

	want := []Device{{
		ID:         "uuid:RINCON_1",
		Name:       "Sonos One",
		Addr:       "http://sonos.local:1400/xml/device_description.xml",
		Type:       DeviceTypeDLNA,
		ControlURL: "http://sonos.local:1400/MediaRenderer/AVTransport/Control",
	}}
	if diff := cmp.Diff(want, devs); diff != "" {
		t.Fatalf("LoadSSDPservices() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSSDPservicesSkipsNonRenderers(t *testing.T) {
	stubSSDP(t, []ssdp.Service{
		{Type: ssdp.RootDevice, Location: "http://router.local/igd.xml"},
	}, func(ctx context.Context, dmrurl string) (*soapcalls.DMRextracted, error) {
		return nil, soapcalls.ErrNoAVTransport
	})

	_, err := LoadSSDPservices(context.Background(), 1, nil)
	if !errors.Is(err, ErrNoDeviceAvailable) {
		t.Fatalf("LoadSSDPservices() err = %v, want %v", err, ErrNoDeviceAvailable)
	}
}

func TestDevicePicker(t *testing.T) {
	devs := []Device{{Name: "Kitchen"}, {Name: "Bedroom"}, {Name: "Living Room"}}

	got, err := DevicePicker(devs, 2)
	if err != nil || got.Name != "Kitchen" {
		t.Fatalf("DevicePicker(2) got = %v, %v, want Kitchen", got.Name, err)
	}

	for _, n := range []int{0, 4, -1} {
		if _, err := DevicePicker(devs, n); !errors.Is(err, ErrDeviceNotAvailable) {
			t.Errorf("DevicePicker(%d) err = %v, want %v", n, err, ErrDeviceNotAvailable)
		}
	}
}

func TestMatch(t *testing.T) {
	devs := []Device{
		{ID: "uuid:1", Name: "Living Room TV", Addr: "http://10.0.0.5:9197/dmr"},
		{ID: "abc123", Name: "Bedroom", Addr: "10.0.0.6:8009"},
	}

	tt := map[string]string{
		"":              "Bedroom",
		"uuid:1":        "Living Room TV",
		"bedroom":       "Bedroom",
		"living":        "Living Room TV",
		"10.0.0.6:8009": "Bedroom",
	}
	for hint, want := range tt {
		got, err := Match(devs, hint)
		if err != nil || got.Name != want {
			t.Errorf("Match(%q) got = %q, %v, want %q", hint, got.Name, err, want)
		}
	}

	if _, err := Match(devs, "garage"); !errors.Is(err, ErrDeviceNotAvailable) {
		t.Errorf("Match(garage) err = %v, want %v", err, ErrDeviceNotAvailable)
	}
	if _, err := Match(nil, ""); !errors.Is(err, ErrNoDeviceAvailable) {
		t.Errorf("Match(nil) err = %v, want %v", err, ErrNoDeviceAvailable)
	}
}

func TestCastDeviceFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "Chromecast-abc._googlecast._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.50"),
		Port:       8009,
		InfoFields: []string{"id=abc", "fn=Den Speaker", "ca=2052"},
	}

	addr, dev, ok := castDeviceFromEntry(entry)
	if !ok {
		t.Fatalf("castDeviceFromEntry() ok = false")
	}
	if addr != "192.168.1.50:8009" {
		t.Fatalf("castDeviceFromEntry() addr = %q", addr)
	}
	want := castDevice{ID: "abc", Name: "Den Speaker", IsAudioOnly: true}
	if dev != want {
		t.Fatalf("castDeviceFromEntry() got = %+v, want %+v", dev, want)
	}

	if _, _, ok := castDeviceFromEntry(&mdns.ServiceEntry{Name: "printer._ipp._tcp.local.", AddrV4: net.ParseIP("192.168.1.9")}); ok {
		t.Fatalf("castDeviceFromEntry() accepted a non cast entry")
	}
	if _, _, ok := castDeviceFromEntry(nil); ok {
		t.Fatalf("castDeviceFromEntry(nil) ok = true")
	}
}

func TestIsChromecastAudioOnly(t *testing.T) {
	tt := map[string]bool{
		"4101": false,
		"2052": true,
		"1":    false,
		"x":    false,
	}
	for in, want := range tt {
		if got := isChromecastAudioOnly(in); got != want {
			t.Errorf("isChromecastAudioOnly(%q) got = %v, want %v", in, got, want)
		}
	}
}

func TestWatcherScanAnnouncesOnce(t *testing.T) {
	stubMDNS(t, &mdns.ServiceEntry{
		Name:       "Chromecast-1._googlecast._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.51"),
		Port:       8009,
		InfoFields: []string{"id=cc1", "fn=Living Room", "ca=4101"},
	})
	stubSSDP(t, []ssdp.Service{
		{Type: ssdp.RootDevice, Location: "http://192.168.1.60:9197/dmr"},
	}, func(ctx context.Context, dmrurl string) (*soapcalls.DMRextracted, error) {
		return &soapcalls.DMRextracted{
			FriendlyName:          "Bedroom TV",
			UDN:                   "uuid:tv",
			AvtransportControlURL: "http://192.168.1.60:9197/upnp/control/AVTransport1",
		}, nil
	})

	w := NewWatcher()
	if w.Probe() {
		t.Fatalf("Probe() = true on an empty watcher")
	}

	var calls atomic.Int32
	unregister := w.OnReady(func(available bool) {
		if !available {
			t.Errorf("OnReady got available = false")
		}
		calls.Add(1)
	})
	defer unregister()

	devs, err := w.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() err = %v", err)
	}

	want := []Device{
		{
			ID:         "uuid:tv",
			Name:       "Bedroom TV",
			Addr:       "http://192.168.1.60:9197/dmr",
			Type:       DeviceTypeDLNA,
			ControlURL: "http://192.168.1.60:9197/upnp/control/AVTransport1",
		},
		{ID: "cc1", Name: "Living Room", Addr: "192.168.1.51:8009", Type: DeviceTypeChromecast},
	}
	if diff := cmp.Diff(want, devs); diff != "" {
		t.Fatalf("Scan() mismatch (-want +got):\n%s", diff)
	}

	if _, err := w.Scan(context.Background()); err != nil {
		t.Fatalf("second Scan() err = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("OnReady listener called %d times, want 1", got)
	}
	if !w.Probe() {
		t.Fatalf("Probe() = false after discovery")
	}
}

func TestWatcherUnregister(t *testing.T) {
	stubMDNS(t, &mdns.ServiceEntry{
		Name:   "cc._googlecast._tcp.local.",
		AddrV4: net.ParseIP("192.168.1.52"),
		Port:   8009,
	})
	stubSSDP(t, nil, func(ctx context.Context, dmrurl string) (*soapcalls.DMRextracted, error) {
		return nil, soapcalls.ErrNoAVTransport
	})

	w := NewWatcher()
	called := false
	unregister := w.OnReady(func(bool) { called = true })
	unregister()

	if _, err := w.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() err = %v", err)
	}
	if called {
		t.Fatalf("unregistered listener was called")
	}
}

func TestWatcherHealthCheck(t *testing.T) {
	orig := hostPortIsAlive
	t.Cleanup(func() { hostPortIsAlive = orig })

	w := NewWatcher()
	w.upsertCast(&mdns.ServiceEntry{Name: "a._googlecast._tcp", AddrV4: net.ParseIP("10.0.0.1"), Port: 8009})
	w.upsertDLNA([]Device{{ID: "u", Name: "TV", Addr: "http://10.0.0.2/desc.xml", Type: DeviceTypeDLNA}})

	var checked []string
	hostPortIsAlive = func(address string) bool {
		checked = append(checked, address)
		return address == "10.0.0.2:80"
	}
	w.checkHealth()

	devs := w.Devices()
	if len(devs) != 1 || devs[0].Name != "TV" {
		t.Fatalf("Devices() after health check = %+v, want only TV", devs)
	}
	if len(checked) != 2 {
		t.Fatalf("health check dialled %v", checked)
	}
}
