// Package monitor periodically probes device liveness and records
// transitions as a bounded event log in the state store.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"labd/internal/statestore"
	logx "labd/pkg/logx"
)

const (
	eventsKey = "device_events"
	maxEvents = 200
)

// Probe is the slice of a device manager the monitor needs.
type Probe interface {
	IDN() string
	Alive() bool
	Uptime() string
}

// Gauges receives liveness updates (the metrics collector implements this).
type Gauges interface {
	SetDeviceUp(device string, up bool)
}

type Config struct {
	Enabled bool
	Spec    string // cron spec or @every interval; default "@every 15s"
}

// Service polls every probe on a cron schedule, logs transitions, updates
// gauges, and appends transition events to the state store.
type Service struct {
	cfg    Config
	log    logx.Logger
	state  *statestore.Store
	probes []Probe
	gauges Gauges

	mu   sync.Mutex
	last map[string]bool
	c    *cron.Cron
}

func New(cfg Config, state *statestore.Store, probes []Probe, gauges Gauges, log logx.Logger) *Service {
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = "@every 15s"
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		state:  state,
		probes: probes,
		gauges: gauges,
		last:   map[string]bool{},
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.cfg.Spec, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("monitor spec %q: %w", s.cfg.Spec, err)
	}

	s.mu.Lock()
	s.c = c
	s.mu.Unlock()

	c.Start()
	s.log.Info("device monitor started", logx.String("spec", s.cfg.Spec))
	// Prime gauges and transition state immediately rather than waiting a tick.
	s.sweep(ctx)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("device monitor stopped")
}

// sweep probes every device once and records transitions.
func (s *Service) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	for _, p := range s.probes {
		alive := p.Alive()
		if s.gauges != nil {
			s.gauges.SetDeviceUp(p.IDN(), alive)
		}

		s.mu.Lock()
		prev, seen := s.last[p.IDN()]
		s.last[p.IDN()] = alive
		s.mu.Unlock()

		if seen && prev == alive {
			continue
		}
		if alive {
			s.log.Info("device up", logx.String("device", p.IDN()), logx.String("uptime", p.Uptime()))
		} else {
			s.log.Warn("device down", logx.String("device", p.IDN()))
		}
		s.appendEvent(p.IDN(), alive)
	}
}

// appendEvent pushes one transition onto the bounded event list.
func (s *Service) appendEvent(idn string, alive bool) {
	doc, err := s.state.Read()
	if err != nil {
		s.log.Warn("event read failed", logx.Err(err))
		return
	}
	events, _ := doc[eventsKey].([]any)
	events = append(events, map[string]any{
		"device": idn,
		"alive":  alive,
		"at":     time.Now().Unix(),
	})
	if over := len(events) - maxEvents; over > 0 {
		events = events[over:]
	}
	if err := s.state.Write(statestore.Document{eventsKey: events}); err != nil {
		s.log.Warn("event write failed", logx.Err(err))
	}
}
