package castprotocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vishen/go-chromecast/application"
	"github.com/vishen/go-chromecast/cast"
)

const (
	defaultPort       = 8009
	connectionRetries = 5
	loadAttempts      = 3
	transportAttempts = 8
)

// ErrNotConnected is returned by commands issued after Close.
var ErrNotConnected = errors.New("chromecast: not connected")

// castApp is the subset of *application.Application the client drives.
type castApp interface {
	Start(addr string, port int) error
	Update() error
	App() *cast.Application
	Status() (*cast.Application, *cast.Media, *cast.Volume)
	Unpause() error
	Pause() error
	Stop() error
	SeekFromStart(value int) error
	Close(stopMedia bool) error
}

// CastClient wraps go-chromecast Application for simplified API
type CastClient struct {
	app         castApp
	conn        sender
	mu          sync.RWMutex
	host        string
	port        int
	connected   bool
	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is set.
func (c *CastClient) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

// NewCastClient prepares a client for the device at addr, given as
// "host", "host:port" or a URL.
func NewCastClient(addr string) (*CastClient, error) {
	host, port, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}

	conn := cast.NewConnection()
	app := application.NewApplication(
		application.WithConnection(conn),
		application.WithConnectionRetries(connectionRetries),
		application.WithCacheDisabled(true),
	)

	return newCastClient(app, conn, host, port), nil
}

func newCastClient(app castApp, conn sender, host string, port int) *CastClient {
	return &CastClient{
		app:    app,
		conn:   conn,
		host:   host,
		port:   port,
		Logger: zerolog.Nop(),
	}
}

func splitAddr(addr string) (string, int, error) {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	addr = strings.TrimSuffix(addr, "/")
	if addr == "" {
		return "", 0, fmt.Errorf("chromecast: empty device address")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]"), defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("chromecast: bad port in %q", addr)
	}
	return host, port, nil
}

// Connect establishes connection to the Chromecast device. The library
// retries on its own; ctx only bounds how long we wait for it.
func (c *CastClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Log().Debug().Str("Method", "Connect").Str("Host", c.host).Int("Port", c.port).Msg("connecting")

	done := make(chan error, 1)
	go func() { done <- c.app.Start(c.host, c.port) }()

	select {
	case err := <-done:
		if err != nil {
			c.Log().Error().Str("Method", "Connect").Err(err).Msg("connection failed")
			return fmt.Errorf("chromecast connect: %w", err)
		}
	case <-ctx.Done():
		c.Log().Debug().Str("Method", "Connect").Err(ctx.Err()).Msg("connect abandoned")
		go func() {
			if err := <-done; err == nil {
				_ = c.app.Close(false)
			}
		}()
		return ctx.Err()
	}

	c.connected = true
	c.Log().Debug().Str("Method", "Connect").Msg("connected successfully")
	return nil
}

// isTimeoutError checks if an error is a timeout/deadline exceeded error.
// This typically happens when the TV needs to wake from sleep.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Load launches the default media receiver and loads r onto it, starting
// at r.StartTime.
func (c *CastClient) Load(ctx context.Context, r LoadRequest) error {
	c.Log().Debug().Str("Method", "Load").Str("URL", r.URL).Str("ContentType", r.ContentType).
		Float64("StartTime", r.StartTime).Bool("Live", r.Live).Msg("loading media")

	if !c.IsConnected() {
		return ErrNotConnected
	}

	var lastErr error
	for attempt := range loadAttempts {
		if attempt > 0 {
			if err := sleepCtx(ctx, 2*time.Second); err != nil {
				return err
			}
		}

		lastErr = c.loadOnce(ctx, r)
		if lastErr == nil {
			c.Log().Debug().Str("Method", "Load").Msg("load success")
			return nil
		}
		if ctx.Err() != nil || !c.IsConnected() {
			return lastErr
		}
		if !isTimeoutError(lastErr) && !errors.Is(lastErr, errNoTransport) {
			break
		}
		c.Log().Debug().Str("Method", "Load").Int("Attempt", attempt).Err(lastErr).Msg("TV may be waking up, retrying")
	}

	c.Log().Error().Str("Method", "Load").Err(lastErr).Msg("load failed")
	return lastErr
}

var errNoTransport = errors.New("media receiver did not report a transport id")

func (c *CastClient) loadOnce(ctx context.Context, r LoadRequest) error {
	if err := launchDefaultReceiver(c.conn); err != nil {
		return fmt.Errorf("launch receiver: %w", err)
	}

	transportID, err := c.waitTransport(ctx)
	if err != nil {
		return err
	}

	// Live streams are loaded paused and played right away; autoplay makes
	// some receivers buffer for a long time first.
	if err := sendLoad(c.conn, transportID, r, !r.Live); err != nil {
		return err
	}
	if r.Live {
		return c.playAfterLoad(ctx)
	}
	return nil
}

func (c *CastClient) waitTransport(ctx context.Context) (string, error) {
	for i := range transportAttempts {
		if err := c.app.Update(); err != nil {
			c.Log().Debug().Str("Method", "Load").Int("Attempt", i+1).Err(err).Msg("app.Update retry")
		} else if app := c.app.App(); app != nil && app.TransportId != "" {
			return app.TransportId, nil
		}
		if err := sleepCtx(ctx, time.Duration(i+1)*250*time.Millisecond); err != nil {
			return "", err
		}
	}
	return "", errNoTransport
}

func (c *CastClient) playAfterLoad(ctx context.Context) error {
	var err error
	for i := range 3 {
		// Unpause needs the mediaSessionId from the LOAD response.
		if err = c.app.Update(); err == nil {
			if err = c.app.Unpause(); err == nil {
				return nil
			}
		}
		if serr := sleepCtx(ctx, time.Duration(i+1)*200*time.Millisecond); serr != nil {
			return serr
		}
	}
	c.Log().Warn().Str("Method", "Load").Err(err).Msg("play command failed after retries")
	return nil
}

// Play resumes playback.
func (c *CastClient) Play(ctx context.Context) error {
	return c.command(ctx, "Play", c.app.Unpause)
}

// Pause pauses playback.
func (c *CastClient) Pause(ctx context.Context) error {
	return c.command(ctx, "Pause", c.app.Pause)
}

// Stop stops playback and closes the media session.
func (c *CastClient) Stop(ctx context.Context) error {
	return c.command(ctx, "Stop", c.app.Stop)
}

// Seek seeks to position in seconds from start.
func (c *CastClient) Seek(ctx context.Context, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	return c.command(ctx, "Seek", func() error {
		return c.app.SeekFromStart(int(seconds))
	})
}

func (c *CastClient) command(ctx context.Context, method string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}

	c.Log().Debug().Str("Method", method).Msg("sending command")
	if err := fn(); err != nil {
		c.Log().Error().Str("Method", method).Err(err).Msg("failed")
		return fmt.Errorf("chromecast %s: %w", strings.ToLower(method), err)
	}
	return nil
}

// GetStatus returns current playback status.
func (c *CastClient) GetStatus(ctx context.Context) (*CastStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	// Update refreshes the cached status from the device.
	if err := c.app.Update(); err != nil {
		c.Log().Error().Str("Method", "GetStatus").Err(err).Msg("app.Update failed")
		return nil, err
	}
	_, media, vol := c.app.Status()
	return statusFrom(media, vol), nil
}

// Close disconnects from the Chromecast device.
func (c *CastClient) Close(stopMedia bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.Log().Debug().Str("Method", "Close").Bool("StopMedia", stopMedia).Msg("closing connection")
	c.connected = false
	if err := c.app.Close(stopMedia); err != nil {
		c.Log().Error().Str("Method", "Close").Err(err).Msg("failed")
		return err
	}
	return nil
}

// IsConnected returns whether client is connected.
func (c *CastClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Host returns the hostname of the Chromecast device.
func (c *CastClient) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
