package devices

import (
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	googlecastService = "_googlecast._tcp"
	// CapabilityVideoOut is the bitmask for video output capability (bit 0)
	CapabilityVideoOut = 1
	// mDNS query timeout per request
	chromecastQueryTimeout = 750 * time.Millisecond
)

var mdnsQuery = mdns.Query

type castDevice struct {
	ID          string
	Name        string
	IsAudioOnly bool
}

// castDeviceFromEntry turns a _googlecast answer into a cache entry keyed by
// host:port. ok is false for anything that is not a usable IPv4 cast device.
func castDeviceFromEntry(entry *mdns.ServiceEntry) (string, castDevice, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return "", castDevice{}, false
	}
	if !strings.Contains(entry.Name, "_googlecast") {
		return "", castDevice{}, false
	}

	address := net.JoinHostPort(entry.AddrV4.String(), strconv.Itoa(entry.Port))
	dev := castDevice{Name: entry.Name}

	for _, txt := range entry.InfoFields {
		switch {
		case strings.HasPrefix(txt, "fn="):
			dev.Name = strings.TrimPrefix(txt, "fn=")
		case strings.HasPrefix(txt, "id="):
			dev.ID = strings.TrimPrefix(txt, "id=")
		case strings.HasPrefix(txt, "ca="):
			dev.IsAudioOnly = isChromecastAudioOnly(strings.TrimPrefix(txt, "ca="))
		}
	}

	if idx := strings.Index(dev.Name, "._googlecast"); idx > 0 {
		dev.Name = dev.Name[:idx]
	}
	if dev.ID == "" {
		dev.ID = address
	}
	return address, dev, true
}

// queryChromecasts runs one mDNS query on every active interface and hands
// each answer to upsert.
func queryChromecasts(timeout time.Duration, upsert func(*mdns.ServiceEntry)) {
	entriesCh := make(chan *mdns.ServiceEntry, 256)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for entry := range entriesCh {
			upsert(entry)
		}
	}()

	queryIface := func(iface *net.Interface) {
		params := mdns.DefaultParams(googlecastService)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		params.WantUnicastResponse = true
		params.Logger = log.New(io.Discard, "", 0)
		params.Interface = iface
		_ = mdnsQuery(params)
	}

	// Windows hosts with VPN or Hyper-V adapters often route the default
	// query out of the wrong interface, so ask on all of them.
	interfaces := getActiveNetworkInterfaces()
	if len(interfaces) > 0 {
		var wg sync.WaitGroup
		for _, iface := range interfaces {
			wg.Add(1)
			go func(iface net.Interface) {
				defer wg.Done()
				queryIface(&iface)
			}(iface)
		}
		wg.Wait()
	} else {
		queryIface(nil)
	}

	close(entriesCh)
	<-doneCh
}

// getActiveNetworkInterfaces returns all network interfaces that are up,
// multicast-capable, not loopback, and have an IPv4 address.
func getActiveNetworkInterfaces() []net.Interface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var active []net.Interface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				active = append(active, iface)
				break
			}
		}
	}

	return active
}

// hostPortIsAlive checks if a device at the given address is reachable via TCP connection.
var hostPortIsAlive = func(address string) bool {
	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isChromecastAudioOnly checks the "ca" capability bitmask. Devices without
// the Video Out bit (Chromecast Audio, Google Home speakers) are audio-only.
// Parse failures count as video devices.
func isChromecastAudioOnly(caField string) bool {
	ca, err := strconv.Atoi(caField)
	if err != nil {
		return false
	}
	return (ca & CapabilityVideoOut) == 0
}
