package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/proposal-wizard/internal/clientinfo"
	"github.com/wolfman30/proposal-wizard/internal/storage"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
	"go.uber.org/goleak"
)

const testID = "0b6a2f3e-7d8c-4e1f-9a0b-1c2d3e4f5a6b"

func newTestManager(t *testing.T, backend storage.Backend, cfg Config) *Manager {
	t.Helper()
	notifier := wizard.NotifierFunc(func(context.Context, string) error { return nil })
	return NewManager(backend, notifier, nil, cfg, logging.Discard(), nil, wizard.WithAsync(func(f func()) { f() }))
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(testID))
	assert.True(t, ValidID(NewID()))
	assert.False(t, ValidID("short"))
	assert.False(t, ValidID("wizard:abc:state"))
	assert.False(t, ValidID("a.b.c.d.e.f.g.h"))
}

func TestLoadCreatesOnceAndReuses(t *testing.T) {
	m := newTestManager(t, storage.NewMemoryBackend(), Config{})
	ctx := context.Background()

	ctl, created, err := m.Load(ctx, testID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testID, ctl.SessionID())

	again, created, err := m.Load(ctx, testID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, ctl, again)
	assert.Equal(t, 1, m.Active())

	_, _, err = m.Load(ctx, "bad id")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestLoadConcurrentCallersShareController(t *testing.T) {
	m := newTestManager(t, storage.NewMemoryBackend(), Config{})

	const n = 16
	var wg sync.WaitGroup
	ctls := make([]*wizard.Controller, n)
	createdCount := 0
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctl, created, err := m.Load(context.Background(), testID)
			assert.NoError(t, err)
			ctls[i] = ctl
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	for _, c := range ctls {
		assert.Same(t, ctls[0], c)
	}
}

func TestReleaseKeepsPersistedState(t *testing.T) {
	backend := storage.NewMemoryBackend()
	m := newTestManager(t, backend, Config{})
	ctx := context.Background()

	ctl, _, err := m.Load(ctx, testID)
	require.NoError(t, err)
	require.NoError(t, ctl.AcceptProposal(ctx))
	userID := ctl.Snapshot().UserID

	assert.True(t, m.Release(ctx, testID))
	assert.False(t, m.Release(ctx, testID))
	_, ok := m.Lookup(testID)
	assert.False(t, ok)

	var ms int64
	require.NoError(t, storage.NewStore(backend, testID).Get(ctx, wizard.KeyLastSessionDuration, &ms))

	resumed, created, err := m.Load(ctx, testID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, resumed.NewSession())
	assert.Equal(t, wizard.StepLocation, resumed.Snapshot().CurrentStep)
	assert.Equal(t, userID, resumed.Snapshot().UserID)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	m := newTestManager(t, storage.NewMemoryBackend(), Config{IdleTTL: time.Hour})
	now := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, err := m.Load(ctx, testID)
	require.NoError(t, err)
	other := "11111111-2222-3333-4444-555555555555"
	_, _, err = m.Load(ctx, other)
	require.NoError(t, err)

	now = now.Add(45 * time.Minute)
	_, ok := m.Lookup(other)
	require.True(t, ok)

	now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, m.Sweep(ctx))
	_, ok = m.Lookup(testID)
	assert.False(t, ok)
	_, ok = m.Lookup(other)
	assert.True(t, ok)
}

func TestInFlightSubmissionSurvivesReleaseAndSweep(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	notifier := wizard.NotifierFunc(func(context.Context, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-unblock
		return nil
	})

	now := time.Date(2026, 2, 14, 3, 0, 0, 0, time.UTC)
	m := NewManager(storage.NewMemoryBackend(), notifier, nil, Config{IdleTTL: time.Minute}, logging.Discard(), nil,
		wizard.WithClock(func() time.Time { return now }),
		wizard.WithLocationNotice(false),
		wizard.WithAsync(func(f func()) { f() }),
	)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ctl, _, err := m.Load(ctx, testID)
	require.NoError(t, err)
	require.NoError(t, ctl.AcceptProposal(ctx))
	_, err = ctl.SelectLocation(ctx, "cafe")
	require.NoError(t, err)
	_, err = ctl.SetLocationDetail(ctx, "cafe", "Highlands Nguyễn Huệ")
	require.NoError(t, err)
	require.NoError(t, ctl.ConfirmLocation(ctx))
	require.NoError(t, ctl.SubmitPersonalInfo(ctx, wizard.PersonalInfo{Name: "Minh Anh", Phone: "0912345678", Address: "12 Le Loi"}))
	require.NoError(t, ctl.UpdateDateOption(ctx, 0, "2026-02-20", "19:00"))

	done := make(chan error, 1)
	go func() { done <- ctl.ConfirmDateTime(ctx, clientinfo.Metadata{}) }()
	<-started

	assert.False(t, m.Release(ctx, testID))
	now = now.Add(time.Hour)
	assert.Equal(t, 0, m.Sweep(ctx))

	again, created, err := m.Load(ctx, testID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, ctl, again)
	assert.ErrorIs(t, again.ConfirmDateTime(ctx, clientinfo.Metadata{}), wizard.ErrSubmissionInFlight)

	close(unblock)
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Equal(t, wizard.StatusSent, ctl.Snapshot().SubmissionStatus)
	assert.True(t, m.Release(ctx, testID))
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	m := newTestManager(t, storage.NewMemoryBackend(), Config{})
	_, _, err := m.Load(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Sweep(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newTestManager(t, storage.NewMemoryBackend(), Config{IdleTTL: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
