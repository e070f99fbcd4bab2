package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/capability"
	"go2tv.app/handoff/internal/config"
	"go2tv.app/handoff/internal/interactive"
	"go2tv.app/handoff/internal/logging"
	"go2tv.app/handoff/internal/metrics"
	"go2tv.app/handoff/internal/monitor"
	"go2tv.app/handoff/internal/playback"
	"go2tv.app/handoff/internal/remote"
	"go2tv.app/handoff/internal/resume"
	"go2tv.app/handoff/internal/session"
	"go2tv.app/handoff/internal/stream"
)

var (
	version     string
	build       string
	listPtr     = flag.Bool("l", false, "List all available Chromecast and UPnP/DLNA receivers.")
	targetPtr   = flag.String("t", "", "Cast to the receiver matching this name or id.")
	itemArg     = flag.String("i", "", "Media item id to play.")
	titleArg    = flag.String("title", "", "Title shown by the players.")
	audioArg    = flag.Int("a", -1, "Audio track index, -1 for the server default.")
	subsArg     = flag.Int("s", -1, "Subtitle track index, -1 for the server default.")
	bitrateArg  = flag.Int("b", 0, "Bitrate ceiling in bytes per second, 0 for auto.")
	resumeArg   = flag.Float64("r", -1, "Start position in seconds, -1 for the saved position.")
	nextArg     = flag.String("next", "", "Comma separated item ids to play afterwards.")
	segmentsArg = flag.String("segments", "", "Path to a JSON file with item durations and skippable segments.")
	configArg   = flag.String("config", "", "Path to the settings file.")
	metricsArg  = flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9090.")
	versionPtr  = flag.Bool("version", false, "Print version.")
)

func main() {
	flag.Parse()

	check(checkflags())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	check(run(ctx, cancel))
}

func check(err error) {
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if *configArg != "" {
		return config.Load(*configArg)
	}
	return config.GetAppConfig()
}

// logOutput keeps log lines off the interactive screen.
func logOutput(conf *config.Config) (io.WriteCloser, error) {
	if *listPtr {
		return nopCloser{os.Stderr}, nil
	}
	dir, err := resumeDir(conf)
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "handoff.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func resumeDir(conf *config.Config) (string, error) {
	if conf.ResumeDir != "" {
		return conf.ResumeDir, nil
	}
	return config.DefaultResumeDir()
}

// newRecorder returns the position recorder and, for local backends, the
// store it writes to so the saved position can be read back.
func newRecorder(conf *config.Config) (resume.Recorder, resume.Store, error) {
	if conf.ResumeBackend == "http" {
		return resume.NewHTTPRecorder(conf.ResumeEndpoint, conf.APIKey), nil, nil
	}

	dir, err := resumeDir(conf)
	if err != nil {
		dir = ""
	}
	store, err := resume.NewStore(conf.ResumeBackend, dir)
	if err != nil {
		return nil, nil, err
	}
	return resume.NewStoreRecorder(store), store, nil
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := logOutput(conf)
	if err != nil {
		return err
	}
	defer out.Close()

	logger, err := logging.New(conf.LogLevel, out, *listPtr)
	if err != nil {
		return err
	}

	watcher := devices.NewWatcher()
	watcher.Logger = logging.Component(logger, "devices")
	watcher.SSDPDelay = max(int(conf.DiscoveryTimeout.Std()/time.Second), 1)

	if *listPtr {
		scanCtx, scanCancel := context.WithTimeout(ctx, conf.DiscoveryTimeout.Std()+5*time.Second)
		defer scanCancel()
		devs, err := watcher.Scan(scanCtx)
		if err != nil {
			return err
		}
		return listFlagFunction(devs)
	}

	watcher.Start(ctx)

	m := metrics.New()
	if *metricsArg != "" {
		srv := &http.Server{Addr: *metricsArg, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Str("Method", "run").Err(err).Msg("metrics server")
			}
		}()
		defer srv.Close()
	}

	guard := capability.NewGuard(watcher,
		capability.WithTimeout(conf.CapabilityTimeout.Std()),
		capability.WithLogger(logging.Component(logger, "capability")),
		capability.WithObserver(m.CapabilityResolved),
	)
	defer guard.Close()

	builder, err := stream.NewBuilder(conf.ServerURL, stream.Options{
		StreamPath: conf.StreamPath,
		Container:  conf.Container,
		APIKey:     conf.APIKey,
	})
	if err != nil {
		return err
	}

	machine := session.NewMachine(guard, watcher, remote.NewConnector(logging.Component(logger, "remote")), builder,
		session.WithLogger(logging.Component(logger, "session")),
		session.WithObserver(m),
		session.WithStatusInterval(conf.StatusInterval.Std()),
	)
	defer func() { _ = machine.EndSession(context.Background()) }()

	recorder, store, err := newRecorder(conf)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	cat, err := loadCatalog(*segmentsArg)
	if err != nil {
		return err
	}
	q := newQueue(*itemArg, *nextArg, cat, selectionFromFlags(*audioArg, *subsArg, *bitrateArg))
	item := q.first()
	if *titleArg != "" {
		item.Display.Title = *titleArg
	}
	item.ResumeSeconds = startPosition(ctx, store, item.ID, *resumeArg)

	local := playback.NewSystemPlayer()
	local.SetDuration(item.Duration)

	var scr *interactive.Screen
	ctl := playback.New(machine, local, builder,
		playback.WithLogger(logging.Component(logger, "playback")),
		playback.WithNotifier(playback.NotifierFunc(func(n playback.Notice) { scr.Notify(n) })),
		playback.WithRecorder(recorder),
		playback.WithNextItem(func(ctx context.Context, current string) (playback.Item, bool) {
			next, ok := q.next(ctx, current)
			if ok {
				local.SetDuration(next.Duration)
			}
			return next, ok
		}),
		playback.WithMonitorEvents(func(ev monitor.Event) { scr.OnMonitorEvent(ev) }),
		playback.WithAdvanceObserver(m.AutoplayAdvanced),
		playback.WithMonitorOptions(
			monitor.WithThreshold(conf.CountdownThreshold),
			monitor.WithCountdownMax(conf.CountdownMax),
		),
		playback.WithReportInterval(conf.ReportInterval.Std()),
	)
	defer ctl.Close()

	scr, err = interactive.NewScreen(ctl, cancel, logging.Component(logger, "interactive"))
	if err != nil {
		return err
	}
	scr.Hint = *targetPtr
	unsubscribe := machine.Subscribe(scr.OnSessionEvent)
	defer unsubscribe()

	if err := ctl.LoadItem(ctx, item); err != nil {
		return err
	}
	if *targetPtr != "" {
		// Failures are shown on the screen; playback continues here.
		go func() { _ = ctl.Connect(ctx, *targetPtr) }()
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := ctl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Str("Method", "run").Err(err).Msg("controller stopped")
		}
	}()

	err = scr.InterInit(ctx)
	cancel()
	<-runDone
	return err
}

// startPosition picks the -r position, or the saved one when -r is negative.
func startPosition(ctx context.Context, store resume.Store, itemID string, flagValue float64) float64 {
	if flagValue >= 0 || store == nil {
		return max(flagValue, 0)
	}
	pos, err := resume.Lookup(ctx, store, itemID)
	if err != nil {
		return 0
	}
	return pos
}
