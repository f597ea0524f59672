// Package app builds and owns the application object graph: one explicit
// context constructed at startup and handed to every component, no
// package-level singletons.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"labd/internal/config"
	"labd/internal/device"
	"labd/internal/metrics"
	"labd/internal/monitor"
	"labd/internal/scheduler"
	"labd/internal/statestore"
	"labd/internal/task"
	logx "labd/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	state      *statestore.Store
	gen        *device.DG4202Manager
	scope      *device.EDUX1002AManager
	registry   *task.Registry
	archive    scheduler.Archive
	timekeeper *scheduler.Timekeeper
	monitor    *monitor.Service
	collector  *metrics.Collector
	metricsSrv *metrics.Server

	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log)

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	state, err := statestore.Open(filepath.Join(cfg.DataDir, "state.json"),
		statestore.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.state = state

	genTimeout, err := config.ParseDurationField("devices.signal_generator.timeout", cfg.Devices.SignalGenerator.Timeout)
	if err != nil {
		return err
	}
	scopeTimeout, err := config.ParseDurationField("devices.oscilloscope.timeout", cfg.Devices.Oscilloscope.Timeout)
	if err != nil {
		return err
	}
	a.pollInterval, err = config.ParseDurationOrDefault("devices.oscilloscope.poll_interval", cfg.Devices.Oscilloscope.PollInterval, time.Second)
	if err != nil {
		return err
	}

	a.gen = device.NewDG4202Manager(state,
		device.NewTCPTransport(cfg.Devices.SignalGenerator.Endpoints, genTimeout),
		cfg.Devices.SignalGenerator.Mock, a.log)
	a.scope = device.NewEDUX1002AManager(state,
		device.NewTCPTransport(cfg.Devices.Oscilloscope.Endpoints, scopeTimeout),
		cfg.Devices.Oscilloscope.Mock, cfg.Devices.Oscilloscope.BufferSize, a.log)

	a.registry = task.NewRegistry()
	if err := task.RegisterBuiltins(a.registry, a.gen, a.scope); err != nil {
		return err
	}

	a.collector = metrics.NewCollector()

	archivePath := cfg.Archive.Path
	if archivePath == "" {
		archivePath = filepath.Join(cfg.DataDir, "archive.json")
	}
	busy, err := config.ParseDurationField("archive.busy_timeout", cfg.Archive.BusyTimeout)
	if err != nil {
		return err
	}
	a.archive, err = scheduler.OpenArchive(scheduler.ArchiveConfig{
		Driver:      cfg.Archive.Driver,
		Path:        archivePath,
		BusyTimeout: busy,
	}, a.log)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	jobStore, err := statestore.Open(filepath.Join(cfg.DataDir, "jobs.json"),
		statestore.WithLogger(a.log))
	if err != nil {
		return err
	}
	schedTimeout, err := config.ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if err != nil {
		return err
	}
	a.timekeeper, err = scheduler.New(scheduler.Config{
		Workers:        cfg.Scheduler.Workers,
		QueueSize:      cfg.Scheduler.QueueSize,
		DefaultTimeout: schedTimeout,
	}, a.registry, jobStore, a.archive, a.log, scheduler.WithMetrics(a.collector))
	if err != nil {
		return err
	}

	monitorStore, err := statestore.Open(filepath.Join(cfg.DataDir, "monitor.json"),
		statestore.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.monitor = monitor.New(monitor.Config{
		Enabled: cfg.Monitor.Enabled,
		Spec:    cfg.Monitor.Spec,
	}, monitorStore, []monitor.Probe{a.gen, a.scope}, a.collector, a.log)

	if cfg.Metrics.Enabled {
		a.metricsSrv = metrics.NewServer(cfg.Metrics.Addr, a.collector, a.log)
	}
	return nil
}

// Start brings up the scheduler, monitor, oscilloscope polling, metrics
// listener and config watcher.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.timekeeper.Start(runCtx)
	if err := a.monitor.Start(runCtx); err != nil {
		return err
	}
	if a.metricsSrv != nil {
		a.metricsSrv.Start()
	}

	// Waveform polling runs on its own goroutine, rate-limited, never on
	// the scheduler loop.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.scope.Poll(runCtx, a.pollInterval)
	}()

	// Hot reload: logging changes apply live; everything else applies on
	// the next restart.
	ch := a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.ConsoleEnabled(),
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("labd started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancel != nil {
		a.cancel()
	}
	a.monitor.Stop(ctx)
	a.timekeeper.Stop(ctx)
	if a.metricsSrv != nil {
		a.metricsSrv.Stop(ctx)
	}
	a.wg.Wait()
	if a.archive != nil {
		_ = a.archive.Close()
	}
	a.log.Info("labd stopped")
	return a.logSvc.Close()
}

// Collaborator surface for CLI/GUI layers.

func (a *App) Timekeeper() *scheduler.Timekeeper      { return a.timekeeper }
func (a *App) Registry() *task.Registry               { return a.registry }
func (a *App) SignalGenerator() *device.DG4202Manager { return a.gen }
func (a *App) Oscilloscope() *device.EDUX1002AManager { return a.scope }
func (a *App) Logger() logx.Logger                    { return a.log }
