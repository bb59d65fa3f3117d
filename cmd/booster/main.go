package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/domain/fleet"
	"github.com/GriffinCanCode/booster/internal/infrastructure/config"
	"github.com/GriffinCanCode/booster/internal/infrastructure/logging"
	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/booster/internal/infrastructure/server"
	httpclient "github.com/GriffinCanCode/booster/internal/providers/http/client"
	"github.com/GriffinCanCode/booster/internal/providers/socket"
	"github.com/GriffinCanCode/booster/pkg/booster"
)

const usage = `usage:
  booster poll   (-profile file.yaml|file.toml | -url URL) [-frequency ms] [-timeout ms] [-refresh n] [-process name] [-n count] [-status]
  booster socket -url ws://... [-transform name] [-n count] [-status]`

var errUsage = errors.New(usage)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run dispatches a subcommand. It returns when ctx is cancelled, the
// requested number of events has been printed or the transport ends.
func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg := config.LoadOrDefault()
	logger := logging.FromConfig(cfg.Logging.Level, cfg.Logging.Development)
	defer func() { _ = logger.Sync() }()

	a := &app{
		cfg:     cfg,
		logger:  logger.Named("cli"),
		base:    logger.Logger,
		metrics: monitoring.NewMetrics(),
		hosts:   fleet.NewManager(),
		out:     &lineWriter{w: out},
	}

	switch args[0] {
	case "poll":
		return a.poll(ctx, args[1:])
	case "socket":
		return a.socket(ctx, args[1:], in)
	case "-h", "-help", "--help", "help":
		fmt.Fprintln(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
}

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	base    *zap.Logger
	metrics *monitoring.Metrics
	hosts   *fleet.Manager
	out     *lineWriter
}

func (a *app) options() []booster.Option {
	return []booster.Option{
		booster.WithLogger(a.base),
		booster.WithMetrics(a.metrics),
		booster.WithFleet(a.hosts),
		booster.WithGrace(a.cfg.Worker.Grace()),
		booster.WithInboxSize(a.cfg.Worker.InboxSize),
		booster.WithSocketRetry(time.Duration(a.cfg.Socket.RetryMs) * time.Millisecond),
	}
}

// startStatus runs the status server when enabled. The returned func
// stops it.
func (a *app) startStatus(enabled bool) (func(), error) {
	if !enabled {
		return func() {}, nil
	}
	srv := server.New(a.cfg, a.metrics, a.hosts, a.base)
	addr, err := srv.Start()
	if err != nil {
		return nil, err
	}
	a.logger.Info("Status server listening", zap.String("addr", addr))
	return func() {
		if err := srv.Close(); err != nil {
			a.logger.Warn("Status server shutdown failed", zap.Error(err))
		}
	}, nil
}

func (a *app) poll(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("poll", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	profile := fs.String("profile", "", "YAML or TOML poll profile")
	url := fs.String("url", "", "URL to poll")
	frequency := fs.Int("frequency", 0, "Delay between requests in ms")
	timeout := fs.Int("timeout", 0, "Request timeout in ms")
	refresh := fs.Int("refresh", 0, "Rebuild the context after n requests")
	process := fs.String("process", "", "Response transform")
	count := fs.Int("n", 0, "Exit after n responses (0 runs until interrupted)")
	status := fs.Bool("status", a.cfg.Status.Enabled, "Serve status and metrics")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v\n%w", err, errUsage)
	}

	var settings booster.PollSettings
	switch {
	case *profile != "":
		s, err := config.LoadProfile(*profile)
		if err != nil {
			return err
		}
		settings = s
	case *url != "":
		settings.URL = *url
	default:
		return fmt.Errorf("poll needs -profile or -url\n%w", errUsage)
	}
	if *url != "" {
		settings.URL = *url
	}
	if *frequency > 0 {
		settings.Frequency = *frequency
	}
	if *timeout > 0 {
		settings.Timeout = *timeout
	}
	if *refresh > 0 {
		settings.Refresh = *refresh
	}
	if *process != "" {
		settings.Process = *process
	}
	settings = a.cfg.Poll.Apply(settings)

	requester, err := httpclient.New(httpclient.Config{
		UserAgent:       a.cfg.HTTP.UserAgent,
		RateLimitRPS:    a.cfg.HTTP.RateLimitRPS,
		RetryMax:        a.cfg.HTTP.RetryMax,
		BreakerFailures: a.cfg.HTTP.BreakerFailures,
	}, a.base)
	if err != nil {
		return err
	}

	stopStatus, err := a.startStatus(*status)
	if err != nil {
		return err
	}
	defer stopStatus()

	done := newCounter(*count)
	printRecord := func(ev booster.Event) {
		if ev.Record == nil {
			return
		}
		data, err := sonic.Marshal(ev.Record)
		if err != nil {
			a.logger.Warn("Failed to encode record", zap.Error(err))
			return
		}
		a.out.line(string(data))
		done.tick()
	}

	opts := append(a.options(),
		booster.WithRequester(requester),
		booster.WithListener(booster.EventMessage, printRecord))
	p, err := booster.NewAjaxPoller(settings, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	a.logger.Info("Polling", zap.String("url", settings.URL), zap.Int("frequency", settings.Frequency))
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down gracefully...")
	case <-done.reached():
	}
	return nil
}

func (a *app) socket(ctx context.Context, args []string, in io.Reader) error {
	fs := flag.NewFlagSet("socket", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	url := fs.String("url", "", "Websocket URL")
	transformName := fs.String("transform", "", "Inbound frame transform")
	count := fs.Int("n", 0, "Exit after n frames (0 runs until interrupted)")
	status := fs.Bool("status", a.cfg.Status.Enabled, "Serve status and metrics")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v\n%w", err, errUsage)
	}
	if *url == "" {
		return fmt.Errorf("socket needs -url\n%w", errUsage)
	}

	stopStatus, err := a.startStatus(*status)
	if err != nil {
		return err
	}
	defer stopStatus()

	done := newCounter(*count)
	failed := make(chan error, 1)
	printFrame := func(ev booster.Event) {
		a.out.line(ev.Text())
		done.tick()
	}
	reportError := func(ev booster.Event) {
		select {
		case failed <- ev.Err:
		default:
		}
	}

	dialer := socket.NewDialer(a.cfg.Socket.HandshakeTimeout(), a.base)
	opts := append(a.options(),
		booster.WithDialer(dialer),
		booster.WithListener(booster.EventMessage, printFrame),
		booster.WithListener(booster.EventError, reportError))
	b, err := booster.NewSocketBooster(*url, *transformName, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if err := b.Send(line); err != nil {
				a.logger.Debug("Send stopped", zap.Error(err))
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down gracefully...")
	case <-done.reached():
	case err := <-failed:
		return fmt.Errorf("socket failed: %w", err)
	case <-b.Done():
		return errors.New("socket worker ended")
	}
	return nil
}

// lineWriter serializes output from listeners running on different hosts.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) line(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

// counter closes its channel after limit ticks. A zero limit never closes.
type counter struct {
	mu    sync.Mutex
	limit int
	seen  int
	ch    chan struct{}
}

func newCounter(limit int) *counter {
	return &counter{limit: limit, ch: make(chan struct{})}
}

func (c *counter) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit <= 0 || c.seen >= c.limit {
		return
	}
	c.seen++
	if c.seen == c.limit {
		close(c.ch)
	}
}

func (c *counter) reached() <-chan struct{} {
	return c.ch
}
