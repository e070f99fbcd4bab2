package soapcalls

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const (
	avTransportServiceID      = "urn:upnp-org:serviceId:AVTransport"
	renderingControlServiceID = "urn:upnp-org:serviceId:RenderingControl"
)

// ErrNoAVTransport is returned for device descriptions without an AVTransport service.
var ErrNoAVTransport = errors.New("DMRextractor: device has no AVTransport service")

type rootNode struct {
	XMLName xml.Name `xml:"root"`
	URLBase string   `xml:"URLBase"`
	Device  struct {
		FriendlyName string `xml:"friendlyName"`
		UDN          string `xml:"UDN"`
		ServiceList  struct {
			Services []serviceNode `xml:"service"`
		} `xml:"serviceList"`
		DeviceList struct {
			Devices []struct {
				FriendlyName string `xml:"friendlyName"`
				UDN          string `xml:"UDN"`
				ServiceList  struct {
					Services []serviceNode `xml:"service"`
				} `xml:"serviceList"`
			} `xml:"device"`
		} `xml:"deviceList"`
	} `xml:"device"`
}

type serviceNode struct {
	Type       string `xml:"serviceType"`
	ID         string `xml:"serviceId"`
	ControlURL string `xml:"controlURL"`
}

// DMRextracted holds what we need from a media renderer description.
type DMRextracted struct {
	FriendlyName          string
	UDN                   string
	AvtransportControlURL string
	RenderingControlURL   string
}

// DMRextractor fetches and parses the device description at dmrurl.
func DMRextractor(ctx context.Context, client *http.Client, dmrurl string) (*DMRextracted, error) {
	parsedURL, err := url.Parse(dmrurl)
	if err != nil {
		return nil, fmt.Errorf("DMRextractor parse error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dmrurl, nil)
	if err != nil {
		return nil, fmt.Errorf("DMRextractor GET error: %w", err)
	}
	req.Header.Set("Connection", "close")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DMRextractor Do GET error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DMRextractor GET status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("DMRextractor read error: %w", err)
	}

	return ParseDMR(parsedURL, body)
}

// ParseDMR resolves the service control URLs of a device description
// against its location.
func ParseDMR(location *url.URL, body []byte) (*DMRextracted, error) {
	var root rootNode
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("DMRextractor unmarshal error: %w", err)
	}

	base := location
	if root.URLBase != "" {
		if u, err := url.Parse(root.URLBase); err == nil && u.Host != "" {
			base = u
		}
	}

	ex := &DMRextracted{
		FriendlyName: strings.TrimSpace(root.Device.FriendlyName),
		UDN:          strings.TrimSpace(root.Device.UDN),
	}

	services := append([]serviceNode{}, root.Device.ServiceList.Services...)
	for _, sub := range root.Device.DeviceList.Devices {
		services = append(services, sub.ServiceList.Services...)
		if ex.FriendlyName == "" {
			ex.FriendlyName = strings.TrimSpace(sub.FriendlyName)
		}
	}

	for _, service := range services {
		controlURL := resolveControlURL(base, service.ControlURL)
		switch service.ID {
		case avTransportServiceID:
			if ex.AvtransportControlURL == "" {
				ex.AvtransportControlURL = controlURL
			}
		case renderingControlServiceID:
			if ex.RenderingControlURL == "" {
				ex.RenderingControlURL = controlURL
			}
		}
	}

	if ex.AvtransportControlURL == "" {
		return nil, ErrNoAVTransport
	}
	return ex, nil
}

func resolveControlURL(base *url.URL, control string) string {
	control = strings.TrimSpace(control)
	ref, err := url.Parse(control)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return base.ResolveReference(ref).String()
}
