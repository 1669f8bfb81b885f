// Package session maps session ids to live wizard controllers.
package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/proposal-wizard/internal/observability/metrics"
	"github.com/wolfman30/proposal-wizard/internal/storage"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidID rejects session ids that are not safe to use as storage keys and subjects.
var ErrInvalidID = errors.New("session: invalid session id")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidID reports whether id can name a session.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Config tunes the manager.
type Config struct {
	// IdleTTL evicts controllers not touched for this long. Zero disables eviction.
	IdleTTL time.Duration
}

type entry struct {
	ctl      *wizard.Controller
	lastSeen time.Time
}

// Manager owns one controller per active session. Controllers are created on
// first use and rehydrated from the storage backend, so an evicted session
// resumes where it stopped.
type Manager struct {
	backend  storage.Backend
	notifier wizard.Notifier
	sink     wizard.EventSink
	opts     []wizard.Option
	cfg      Config
	logger   *logging.Logger
	metrics  *metrics.WizardMetrics
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
}

// NewManager creates a manager. opts are applied to every controller it creates.
func NewManager(backend storage.Backend, notifier wizard.Notifier, sink wizard.EventSink, cfg Config, logger *logging.Logger, m *metrics.WizardMetrics, opts ...wizard.Option) *Manager {
	if backend == nil {
		panic("session: storage backend cannot be nil")
	}
	if notifier == nil {
		panic("session: notifier cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		backend:  backend,
		notifier: notifier,
		sink:     sink,
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// Load returns the controller for id, creating and rehydrating it on first
// use. created is true only for the caller whose request built it.
func (m *Manager) Load(ctx context.Context, id string) (ctl *wizard.Controller, created bool, err error) {
	if !ValidID(id) {
		return nil, false, ErrInvalidID
	}
	if ctl := m.touch(id); ctl != nil {
		return ctl, false, nil
	}

	v, err, _ := m.group.Do(id, func() (any, error) {
		if ctl := m.touch(id); ctl != nil {
			return ctl, nil
		}
		opts := append([]wizard.Option{wizard.WithLogger(m.logger), wizard.WithMetrics(m.metrics)}, m.opts...)
		ctl := wizard.New(id, storage.NewStore(m.backend, id), m.notifier, m.sink, opts...)
		returning := ctl.Rehydrate(context.WithoutCancel(ctx))

		m.mu.Lock()
		m.entries[id] = &entry{ctl: ctl, lastSeen: m.now()}
		active := len(m.entries)
		m.mu.Unlock()

		m.metrics.SetActiveSessions(active)
		m.logger.Info("session loaded", "session_id", id, "returning", returning)
		created = true
		return ctl, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*wizard.Controller), created, nil
}

// Lookup returns the live controller for id without creating one.
func (m *Manager) Lookup(id string) (*wizard.Controller, bool) {
	ctl := m.touch(id)
	return ctl, ctl != nil
}

func (m *Manager) touch(id string) *wizard.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	e.lastSeen = m.now()
	return e.ctl
}

// Release records the session end and drops the controller. The persisted
// state stays and is picked up again by the next Load. A controller with a
// submission in flight is kept, since a rehydrated copy would read it as
// failed and allow a second send.
func (m *Manager) Release(ctx context.Context, id string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok && sending(e) {
		m.mu.Unlock()
		m.logger.Debug("release deferred, submission in flight", "session_id", id)
		return false
	}
	if ok {
		delete(m.entries, id)
	}
	active := len(m.entries)
	m.mu.Unlock()

	if !ok {
		return false
	}
	e.ctl.RecordSessionEnd(ctx)
	m.metrics.SetActiveSessions(active)
	return true
}

func sending(e *entry) bool {
	return e.ctl.Snapshot().SubmissionStatus == wizard.StatusSending
}

// Active returns the number of live controllers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep evicts controllers idle for longer than IdleTTL and returns how many
// were dropped. Sessions with a submission in flight are kept.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var idle []*entry
	for id, e := range m.entries {
		if e.lastSeen.Before(cutoff) && !sending(e) {
			idle = append(idle, e)
			delete(m.entries, id)
		}
	}
	active := len(m.entries)
	m.mu.Unlock()

	evicted := len(idle)
	for _, e := range idle {
		e.ctl.RecordSessionEnd(ctx)
	}
	if evicted > 0 {
		m.metrics.SetActiveSessions(active)
		m.logger.Debug("evicted idle sessions", "count", evicted)
	}
	return evicted
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTTL <= 0 {
		return
	}
	interval := m.cfg.IdleTTL / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
