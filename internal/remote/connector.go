package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"go2tv.app/handoff/castprotocol"
	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/session"
	"go2tv.app/handoff/soapcalls"
)

// Connector opens players for discovered devices by device type.
type Connector struct {
	Logger zerolog.Logger
	// HTTPClient is shared by DLNA renderers. Nil gets the retrying default.
	HTTPClient *http.Client

	newCast     func(addr string, logger zerolog.Logger) (castClient, error)
	newRenderer func(controlURL string, client *http.Client, logger zerolog.Logger) renderer
}

var _ session.Connector = (*Connector)(nil)

func NewConnector(logger zerolog.Logger) *Connector {
	return &Connector{
		Logger:      logger,
		newCast:     newCastClient,
		newRenderer: newSoapRenderer,
	}
}

func newCastClient(addr string, logger zerolog.Logger) (castClient, error) {
	c, err := castprotocol.NewCastClient(addr)
	if err != nil {
		return nil, err
	}
	c.Logger = logger
	return c, nil
}

func newSoapRenderer(controlURL string, client *http.Client, logger zerolog.Logger) renderer {
	r := soapcalls.NewRenderer(controlURL, client)
	r.Logger = logger
	return r
}

func (c *Connector) Connect(ctx context.Context, d devices.Device) (session.RemotePlayer, error) {
	logger := c.Logger.With().Str("Device", d.Name).Str("Type", d.Type).Logger()

	switch d.Type {
	case devices.DeviceTypeChromecast:
		client, err := c.newCast(d.Addr, logger)
		if err != nil {
			return nil, fmt.Errorf("chromecast %s: %w", d.Name, err)
		}
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("chromecast %s: %w", d.Name, err)
		}
		logger.Debug().Str("Method", "Connect").Str("Addr", d.Addr).Msg("connected")
		return NewChromecast(client), nil

	case devices.DeviceTypeDLNA:
		if d.ControlURL == "" {
			return nil, fmt.Errorf("dlna %s: no AVTransport control url", d.Name)
		}
		r := c.newRenderer(d.ControlURL, c.HTTPClient, logger)
		// DLNA is connectionless; make sure the renderer answers.
		if _, err := r.GetTransportInfo(ctx); err != nil {
			return nil, fmt.Errorf("dlna %s: %w", d.Name, err)
		}
		return NewDLNA(r), nil
	}

	return nil, fmt.Errorf("unsupported device type %q", d.Type)
}
