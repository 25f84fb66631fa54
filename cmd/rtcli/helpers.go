package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sonirico/realtime"
	"go.uber.org/zap"
)

type connFlags struct {
	url        string
	token      string
	configFile string
	logLevel   string
	channels   []string
}

var flags connFlags

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.url, "url", "", "endpoint URL, overrides the profile and config file")
	pf.StringVar(&flags.token, "token", "", "identity presented in the handshake")
	pf.StringVarP(&flags.configFile, "config", "c", "", "YAML connection config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringSliceVar(&flags.channels, "channel", nil, "channel to subscribe, repeatable")
}

// settings is the merged view of flags, profile and config file.
type settings struct {
	cfg      realtime.Config
	identity string
	channels []string
}

// resolveSettings merges sources with flags first, then the profile, then the YAML config file.
func resolveSettings(p *Profile, f connFlags) (settings, error) {
	var (
		cfg realtime.Config
		err error
	)

	configFile := firstNonEmpty(f.configFile, p.Default.ConfigFile)
	if configFile != "" {
		if cfg, err = realtime.LoadConfig(configFile); err != nil {
			return settings{}, err
		}
	} else {
		cfg = realtime.DefaultConfig(p.Default.URL)
	}

	if f.url != "" {
		cfg.URL = f.url
	}
	if cfg.URL == "" {
		return settings{}, fmt.Errorf("no endpoint configured: pass --url or run 'rtcli config set default.url <url>'")
	}
	if level := firstNonEmpty(f.logLevel, p.Default.LogLevel); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return settings{}, err
	}

	channels := f.channels
	if len(channels) == 0 {
		channels = p.Default.Channels
	}

	return settings{
		cfg:      cfg,
		identity: firstNonEmpty(f.token, p.Default.Token),
		channels: channels,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// session bundles a manager with the logger and metrics it reports to.
type session struct {
	settings
	manager *realtime.ConnectionManager
	metrics *realtime.Metrics
	zl      *zap.Logger
}

func newSession() (*session, error) {
	p, err := loadProfile()
	if err != nil {
		return nil, err
	}
	s, err := resolveSettings(p, flags)
	if err != nil {
		return nil, err
	}

	zl, err := realtime.NewProductionZapLogger(s.cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("cannot build logger: %w", err)
	}

	metrics := realtime.NewMetrics("rtcli")
	manager, err := realtime.NewConnectionManager(
		s.cfg,
		realtime.WithLogger(realtime.NewZapLogger(zl)),
		realtime.WithMetrics(metrics),
	)
	if err != nil {
		_ = zl.Sync()
		return nil, err
	}

	for _, ch := range s.channels {
		manager.Subscribe(ch)
	}

	return &session{settings: s, manager: manager, metrics: metrics, zl: zl}, nil
}

func (s *session) close() {
	s.manager.Close()
	_ = s.zl.Sync()
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// eventPrinter writes one JSON line per event.
type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

type eventLine struct {
	Time    string `json:"time"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w), now: time.Now}
}

func (p *eventPrinter) handler(name realtime.EventName) realtime.Handler {
	return func(payload any) {
		p.mu.Lock()
		defer p.mu.Unlock()

		_ = p.enc.Encode(eventLine{
			Time:    p.now().UTC().Format(time.RFC3339Nano),
			Event:   string(name),
			Payload: printablePayload(payload),
		})
	}
}

func printablePayload(payload any) any {
	switch v := payload.(type) {
	case realtime.ErrorPayload:
		if v.Err == nil {
			return nil
		}
		return map[string]any{"error": v.Err.Error()}
	case realtime.DisconnectedPayload:
		return map[string]any{"intentional": v.Intentional, "reason": v.Reason}
	case realtime.ReconnectingPayload:
		return map[string]any{"attempt": v.Attempt, "delay": v.Delay.String()}
	default:
		return v
	}
}

var printedEvents = []realtime.EventName{
	realtime.EventConnected,
	realtime.EventDisconnected,
	realtime.EventReconnecting,
	realtime.EventError,
	realtime.EventReconnectExhausted,
	realtime.EventMessage,
	realtime.EventAssetUpdated,
	realtime.EventTaskUpdated,
	realtime.EventTaskCreated,
	realtime.EventTaskCompleted,
	realtime.EventCalendarEventCreated,
	realtime.EventCalendarEventUpdated,
	realtime.EventNotification,
	realtime.EventUserActivity,
	realtime.EventInspectionScheduled,
	realtime.EventMaintenanceAlert,
	realtime.EventCollaborationUpdate,
	realtime.EventDocumentUploaded,
	realtime.EventPhaseTransition,
}
