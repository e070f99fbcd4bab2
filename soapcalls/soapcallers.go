package soapcalls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Renderer drives the AVTransport service of one UPnP media renderer.
type Renderer struct {
	ControlURL string
	Logger     zerolog.Logger
	LogOutput  io.Writer

	client      *http.Client
	initLogOnce sync.Once
}

// NewRenderer returns a Renderer for the given AVTransport control URL.
// A nil client gets the retrying default.
func NewRenderer(controlURL string, client *http.Client) *Renderer {
	if client == nil {
		client = NewRetryableHTTPClient(defaultRetryMax)
	}
	return &Renderer{
		ControlURL: controlURL,
		Logger:     zerolog.Nop(),
		client:     client,
	}
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is set.
func (r *Renderer) Log() *zerolog.Logger {
	if r.LogOutput != nil {
		r.initLogOnce.Do(func() {
			r.Logger = zerolog.New(r.LogOutput).With().Timestamp().Logger()
		})
	}
	return &r.Logger
}

// SetAVTransportURI points the renderer at a new media URL.
func (r *Renderer) SetAVTransportURI(ctx context.Context, m Media) error {
	payload, err := setAVTransportSoapBuild(m)
	if err != nil {
		return err
	}
	_, err = r.call(ctx, "SetAVTransportURI", payload)
	return err
}

// Play starts or resumes playback.
func (r *Renderer) Play(ctx context.Context) error {
	payload, err := playSoapBuild()
	if err != nil {
		return err
	}
	_, err = r.call(ctx, "Play", payload)
	return err
}

// Pause pauses playback.
func (r *Renderer) Pause(ctx context.Context) error {
	payload, err := pauseSoapBuild()
	if err != nil {
		return err
	}
	_, err = r.call(ctx, "Pause", payload)
	return err
}

// Stop stops playback.
func (r *Renderer) Stop(ctx context.Context) error {
	payload, err := stopSoapBuild()
	if err != nil {
		return err
	}
	_, err = r.call(ctx, "Stop", payload)
	return err
}

// Seek jumps to an absolute position in seconds.
func (r *Renderer) Seek(ctx context.Context, seconds float64) error {
	payload, err := seekSoapBuild(seconds)
	if err != nil {
		return err
	}
	_, err = r.call(ctx, "Seek", payload)
	return err
}

// GetPositionInfo returns the current position and track duration.
func (r *Renderer) GetPositionInfo(ctx context.Context) (PositionInfo, error) {
	payload, err := getPositionInfoSoapBuild()
	if err != nil {
		return PositionInfo{}, err
	}
	body, err := r.call(ctx, "GetPositionInfo", payload)
	if err != nil {
		return PositionInfo{}, err
	}
	return positionInfoParser(body)
}

// GetTransportInfo returns CurrentTransportState, e.g. PLAYING or STOPPED.
func (r *Renderer) GetTransportInfo(ctx context.Context) (string, error) {
	payload, err := getTransportInfoSoapBuild()
	if err != nil {
		return "", err
	}
	body, err := r.call(ctx, "GetTransportInfo", payload)
	if err != nil {
		return "", err
	}
	return transportInfoParser(body)
}

func (r *Renderer) call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.ControlURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", action, err)
	}

	req.Header = http.Header{
		"SOAPAction":   []string{`"` + avTransportNS + `#` + action + `"`},
		"content-type": []string{"text/xml"},
		"charset":      []string{"utf-8"},
		"Connection":   []string{"close"},
	}

	r.Log().Debug().Str("Method", action).Str("URL", r.ControlURL).Msg("soap call")

	resp, err := r.client.Do(req)
	if err != nil {
		r.Log().Error().Str("Method", action).Err(err).Msg("soap call failed")
		return nil, fmt.Errorf("%s send: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s read: %w", action, err)
	}

	if resp.StatusCode != http.StatusOK {
		fault := faultParser(action, body)
		if fault.Description == "" {
			fault.Description = resp.Status
		}
		r.Log().Error().Str("Method", action).Str("Code", fault.Code).Msg(fault.Description)
		return nil, fault
	}

	return body, nil
}
