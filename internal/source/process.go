package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/np-widget/backend/internal/config"
	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/session"
)

// procSample is one matching process observed during a poll.
type procSample struct {
	PID  int32
	Name string
	CPU  float64
}

type sampler interface {
	Sample(ctx context.Context, match func(name string) (string, bool)) ([]procSample, error)
}

// gopsutilSampler keeps process handles between polls because gopsutil
// computes CPU percent relative to the previous call on the same handle.
type gopsutilSampler struct {
	procs map[int32]*process.Process
}

func newGopsutilSampler() *gopsutilSampler {
	return &gopsutilSampler{procs: make(map[int32]*process.Process)}
}

func (s *gopsutilSampler) Sample(ctx context.Context, match func(string) (string, bool)) ([]procSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	seen := make(map[int32]bool)
	var out []procSample
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		player, ok := match(name)
		if !ok {
			continue
		}
		cached, ok := s.procs[p.Pid]
		if !ok {
			cached = p
			s.procs[p.Pid] = p
		}
		seen[p.Pid] = true
		cpu, err := cached.PercentWithContext(ctx, 0)
		if err != nil {
			continue
		}
		out = append(out, procSample{PID: p.Pid, Name: player, CPU: cpu})
	}

	for pid := range s.procs {
		if !seen[pid] {
			delete(s.procs, pid)
		}
	}
	return out, nil
}

type trackedPlayer struct {
	id      uint64
	name    string
	status  session.PlaybackStatus
	updates chan Update
}

// ProcessSource reports running media players as sessions. All processes
// of one player collapse into a single session whose id is the lowest pid
// seen when the player first appeared. Playback status is inferred from
// the player's combined CPU use.
type ProcessSource struct {
	players   map[string]bool
	interval  time.Duration
	threshold float64
	sampler   sampler
	logger    *slog.Logger
	tracked   map[string]*trackedPlayer
}

func NewProcessSource(cfg config.ProcessConfig, logger *slog.Logger) *ProcessSource {
	players := make(map[string]bool, len(cfg.Players))
	for _, p := range cfg.Players {
		players[normalizeProcessName(p)] = true
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ProcessSource{
		players:   players,
		interval:  interval,
		threshold: cfg.PlayingCPUThreshold,
		sampler:   newGopsutilSampler(),
		logger:    observability.WithComponent(logger, "source").With(slog.String("source", "process")),
		tracked:   make(map[string]*trackedPlayer),
	}
}

func (s *ProcessSource) Name() string { return "process" }

func normalizeProcessName(name string) string {
	name = strings.ToLower(filepath.Base(strings.TrimSpace(name)))
	return strings.TrimSuffix(name, ".exe")
}

func (s *ProcessSource) match(name string) (string, bool) {
	n := normalizeProcessName(name)
	return n, s.players[n]
}

func (s *ProcessSource) Start(ctx context.Context) (<-chan Notification, error) {
	if len(s.players) == 0 {
		return nil, fmt.Errorf("%w: no players configured", session.ErrSourceUnavailable)
	}
	first, err := s.sampler.Sample(ctx, s.match)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrSourceUnavailable, err)
	}

	out := make(chan Notification)
	go s.run(ctx, out, first)
	return out, nil
}

func (s *ProcessSource) run(ctx context.Context, out chan<- Notification, first []procSample) {
	defer close(out)
	defer func() {
		for _, tp := range s.tracked {
			close(tp.updates)
		}
	}()

	s.logger.Info("process source started", slog.Duration("poll_interval", s.interval), slog.Int("players", len(s.players)))
	if !s.reconcile(ctx, out, first) {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples, err := s.sampler.Sample(ctx, s.match)
			if err != nil {
				failures++
				observability.WithError(s.logger, err).Warn("process poll failed", slog.Int("consecutive_failures", failures))
				continue
			}
			failures = 0
			if !s.reconcile(ctx, out, samples) {
				return
			}
		}
	}
}

// reconcile diffs samples against tracked players, announcing appeared and
// vanished players and pushing status changes.
func (s *ProcessSource) reconcile(ctx context.Context, out chan<- Notification, samples []procSample) bool {
	type agg struct {
		minPID int32
		cpu    float64
	}
	byName := make(map[string]*agg)
	for _, sm := range samples {
		a, ok := byName[sm.Name]
		if !ok {
			byName[sm.Name] = &agg{minPID: sm.PID, cpu: sm.CPU}
			continue
		}
		a.cpu += sm.CPU
		if sm.PID < a.minPID {
			a.minPID = sm.PID
		}
	}

	for name, tp := range s.tracked {
		if _, ok := byName[name]; ok {
			continue
		}
		delete(s.tracked, name)
		close(tp.updates)
		s.logger.Debug("player exited", slog.String("player", name), slog.Uint64("session_id", tp.id))
		if !emit(ctx, out, Notification{Kind: Removed, SessionID: tp.id}) {
			return false
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		a := byName[name]
		status := session.StatusPaused
		if a.cpu >= s.threshold {
			status = session.StatusPlaying
		}

		tp, ok := s.tracked[name]
		if !ok {
			tp = &trackedPlayer{id: uint64(a.minPID), name: name, status: status, updates: make(chan Update, 1)}
			s.tracked[name] = tp
			s.logger.Debug("player appeared", slog.String("player", name), slog.Uint64("session_id", tp.id))
			if !emit(ctx, out, Notification{Kind: Created, SessionID: tp.id, Source: name, Updates: tp.updates}) {
				return false
			}
			if !push(ctx, tp.updates, s.statusUpdate(tp)) {
				return false
			}
			continue
		}

		if tp.status != status {
			tp.status = status
			if !push(ctx, tp.updates, s.statusUpdate(tp)) {
				return false
			}
		}
	}
	return true
}

func (s *ProcessSource) statusUpdate(tp *trackedPlayer) Update {
	return Update{
		Model: session.SessionModel{
			Source: tp.name,
			Playback: &session.PlaybackModel{
				Rate:   1,
				Status: tp.status,
				Type:   session.TypeUnknown,
			},
		},
	}
}
