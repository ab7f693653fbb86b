package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/np-widget/backend/internal/config"
	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/session"
)

// Scenario is a scripted sequence of session notifications, used to
// reproduce orderings such as duplicate creates, removes of unknown ids or
// updates racing a removal, and to drive demos without a real session
// manager. Updates for a session that was never created are skipped, since
// no stream exists to carry them.
type Scenario struct {
	Steps []ScenarioStep `yaml:"steps"`
}

// ScenarioStep performs exactly one action after waiting Delay.
type ScenarioStep struct {
	Delay   time.Duration    `yaml:"delay"`
	Create  *ScenarioCreate  `yaml:"create"`
	Update  *ScenarioUpdate  `yaml:"update"`
	Remove  *uint64          `yaml:"remove"`
	Close   *uint64          `yaml:"close"`
	Current *ScenarioCurrent `yaml:"current"`
}

type ScenarioCreate struct {
	ID     uint64 `yaml:"id"`
	Source string `yaml:"source"`
}

type ScenarioCurrent struct {
	ID *uint64 `yaml:"id"`
}

type ScenarioUpdate struct {
	ID         uint64           `yaml:"id"`
	Kind       string           `yaml:"kind"`
	Source     string           `yaml:"source"`
	Title      string           `yaml:"title"`
	Subtitle   string           `yaml:"subtitle"`
	Artist     string           `yaml:"artist"`
	Album      string           `yaml:"album"`
	Status     string           `yaml:"status"`
	PositionMs int64            `yaml:"position_ms"`
	EndMs      int64            `yaml:"end_ms"`
	Artwork    *ScenarioArtwork `yaml:"artwork"`
}

// ScenarioArtwork holds base64 Data or a File path relative to the
// scenario file.
type ScenarioArtwork struct {
	ContentType string `yaml:"content_type"`
	Data        string `yaml:"data"`
	File        string `yaml:"file"`
}

var errEmptyStep = errors.New("step has no action")

// ParseScenario decodes a scenario and resolves artwork files against baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	for i := range sc.Steps {
		st := &sc.Steps[i]
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if st.Update != nil && st.Update.Artwork != nil && st.Update.Artwork.File != "" {
			path := st.Update.Artwork.File
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("step %d: reading artwork: %w", i+1, err)
			}
			st.Update.Artwork.Data = base64.StdEncoding.EncodeToString(raw)
			st.Update.Artwork.File = ""
		}
	}
	return &sc, nil
}

func (st *ScenarioStep) validate() error {
	actions := 0
	for _, set := range []bool{st.Create != nil, st.Update != nil, st.Remove != nil, st.Close != nil, st.Current != nil} {
		if set {
			actions++
		}
	}
	switch {
	case actions == 0:
		return errEmptyStep
	case actions > 1:
		return fmt.Errorf("step has %d actions, want 1", actions)
	}
	if st.Update != nil {
		switch st.Update.Kind {
		case "model", "media":
		default:
			return fmt.Errorf("update kind %q, want model or media", st.Update.Kind)
		}
		if st.Update.Status != "" {
			if _, ok := session.ParsePlaybackStatus(st.Update.Status); !ok {
				return fmt.Errorf("unknown playback status %q", st.Update.Status)
			}
		}
		if a := st.Update.Artwork; a != nil && a.Data != "" {
			if _, err := base64.StdEncoding.DecodeString(a.Data); err != nil {
				return fmt.Errorf("artwork data: %w", err)
			}
		}
	}
	return nil
}

// ScenarioSource replays a Scenario. When the script ends (and Loop is
// off) it closes every open update stream and then its own channel;
// sessions that were never removed stay in the registry.
type ScenarioSource struct {
	scenario *Scenario
	loop     bool
	logger   *slog.Logger
}

func NewScenarioSource(cfg config.ScenarioConfig, logger *slog.Logger) (*ScenarioSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: scenario path not set", session.ErrSourceUnavailable)
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrSourceUnavailable, err)
	}
	sc, err := ParseScenario(data, filepath.Dir(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrSourceUnavailable, err)
	}
	return NewScenarioSourceFrom(sc, cfg.Loop, logger), nil
}

func NewScenarioSourceFrom(sc *Scenario, loop bool, logger *slog.Logger) *ScenarioSource {
	return &ScenarioSource{
		scenario: sc,
		loop:     loop,
		logger:   observability.WithComponent(logger, "source").With(slog.String("source", "scenario")),
	}
}

func (s *ScenarioSource) Name() string { return "scenario" }

func (s *ScenarioSource) Start(ctx context.Context) (<-chan Notification, error) {
	out := make(chan Notification)
	go s.run(ctx, out)
	return out, nil
}

func (s *ScenarioSource) run(ctx context.Context, out chan<- Notification) {
	defer close(out)
	open := make(map[uint64]chan Update)
	defer func() {
		for _, ch := range open {
			close(ch)
		}
	}()

	for pass := 1; ; pass++ {
		s.logger.Info("scenario pass started", slog.Int("pass", pass), slog.Int("steps", len(s.scenario.Steps)))
		for i, st := range s.scenario.Steps {
			if !sleepCtx(ctx, st.Delay) {
				return
			}
			if !s.step(ctx, out, open, st) {
				return
			}
			s.logger.Debug("scenario step done", slog.Int("step", i+1))
		}
		if !s.loop {
			s.logger.Info("scenario finished")
			return
		}
		for id, ch := range open {
			close(ch)
			delete(open, id)
			if !emit(ctx, out, Notification{Kind: Removed, SessionID: id}) {
				return
			}
		}
	}
}

func (s *ScenarioSource) step(ctx context.Context, out chan<- Notification, open map[uint64]chan Update, st ScenarioStep) bool {
	switch {
	case st.Create != nil:
		if prev, ok := open[st.Create.ID]; ok {
			close(prev)
		}
		ch := make(chan Update, 16)
		open[st.Create.ID] = ch
		return emit(ctx, out, Notification{Kind: Created, SessionID: st.Create.ID, Source: st.Create.Source, Updates: ch})

	case st.Update != nil:
		ch, ok := open[st.Update.ID]
		if !ok {
			// no stream carries updates for a session that was never created
			s.logger.Warn("scenario update for unopened session", slog.Uint64("session_id", st.Update.ID))
			return true
		}
		return push(ctx, ch, st.Update.toUpdate())

	case st.Remove != nil:
		if ch, ok := open[*st.Remove]; ok {
			close(ch)
			delete(open, *st.Remove)
		}
		return emit(ctx, out, Notification{Kind: Removed, SessionID: *st.Remove})

	case st.Close != nil:
		if ch, ok := open[*st.Close]; ok {
			close(ch)
			delete(open, *st.Close)
		}
		return true

	case st.Current != nil:
		n := Notification{Kind: CurrentChanged}
		if st.Current.ID != nil {
			id := *st.Current.ID
			n.Current = &id
		}
		return emit(ctx, out, n)
	}
	return true
}

func (u *ScenarioUpdate) toUpdate() Update {
	status, _ := session.ParsePlaybackStatus(u.Status)
	m := session.SessionModel{
		Source: u.Source,
		Media: &session.MediaModel{
			Title:    u.Title,
			Subtitle: u.Subtitle,
			Artist:   u.Artist,
		},
	}
	if u.Album != "" {
		m.Media.Album = &session.AlbumModel{Title: u.Album, Artist: u.Artist}
	}
	if u.Status != "" {
		m.Playback = &session.PlaybackModel{Rate: 1, Status: status}
	}
	if u.EndMs > 0 || u.PositionMs > 0 {
		m.Timeline = &session.TimelineModel{Position: u.PositionMs, End: u.EndMs}
	}

	upd := Update{Model: m, MediaChanged: u.Kind == "media"}
	if u.Artwork != nil {
		data, _ := base64.StdEncoding.DecodeString(u.Artwork.Data)
		upd.Thumbnail = &Thumbnail{ContentType: u.Artwork.ContentType, Data: data}
	}
	return upd
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
