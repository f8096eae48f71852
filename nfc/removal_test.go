package nfc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForCardRemoval did not return")
		return nil
	}
}

func assertStillWaiting(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("wait returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopWaitWithoutWaitIsNoop(t *testing.T) {
	r, _ := startedReader(t)
	r.StopWaitForCardRemoval()
	r.StopWaitForCardRemoval()

	var w removalWaiter
	w.stop()
	gen, _, ok := w.begin()
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)
}

func TestWaitForCardRemoval_Polling(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	r, adapter := startedReader(t, func(c *Config) { c.Clock = clock })
	iso := NewMockIsoDep(nil, []byte{0x80})
	adapter.Discover(NewMockTag(testUID, iso))
	require.NoError(t, r.OpenPhysicalChannel())

	done := make(chan error, 1)
	go func() { done <- r.WaitForCardRemoval(context.Background()) }()
	require.True(t, clock.WaitForTicker(time.Second))

	clock.Advance(DefaultCardRemovalPollingInterval)
	assertStillWaiting(t, done)

	iso.SetPresent(false)
	clock.Advance(DefaultCardRemovalPollingInterval)
	assert.NoError(t, waitResult(t, done))
}

func TestWaitForCardRemoval_PollingAlreadyGone(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	r, adapter := startedReader(t, func(c *Config) { c.Clock = clock })
	iso := NewMockIsoDep(nil, []byte{0x80})
	adapter.Discover(NewMockTag(testUID, iso))
	require.NoError(t, r.OpenPhysicalChannel())
	iso.SetPresent(false)

	assert.NoError(t, r.WaitForCardRemoval(context.Background()))
}

func TestWaitForCardRemoval_PollingStop(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	r, adapter := startedReader(t, func(c *Config) { c.Clock = clock })
	adapter.Discover(NewMockTag(testUID, NewMockIsoDep(nil, []byte{0x80})))
	require.NoError(t, r.OpenPhysicalChannel())

	done := make(chan error, 1)
	go func() { done <- r.WaitForCardRemoval(context.Background()) }()
	require.True(t, clock.WaitForTicker(time.Second))

	r.StopWaitForCardRemoval()
	assert.True(t, errors.Is(waitResult(t, done), ErrRemovalWaitStopped))

	// A new wait can start after the stopped one.
	go func() { done <- r.WaitForCardRemoval(context.Background()) }()
	require.True(t, clock.WaitForTicker(time.Second))
	r.StopWaitForCardRemoval()
	assert.True(t, errors.Is(waitResult(t, done), ErrRemovalWaitStopped))
}

func TestWaitForCardRemoval_Context(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	r, adapter := startedReader(t, func(c *Config) { c.Clock = clock })
	adapter.Discover(NewMockTag(testUID, NewMockIsoDep(nil, []byte{0x80})))
	require.NoError(t, r.OpenPhysicalChannel())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.WaitForCardRemoval(ctx) }()
	require.True(t, clock.WaitForTicker(time.Second))

	cancel()
	assert.ErrorIs(t, waitResult(t, done), context.Canceled)
}

func TestWaitForCardRemoval_Native(t *testing.T) {
	adapter := NewMockRemovalAdapter()
	r := newTestReader(t, adapter.Host())
	require.NoError(t, r.ActivateProtocol(ProtocolISO14443_4))
	require.NoError(t, r.OnStartDetection())
	adapter.Discover(NewMockTag(testUID, NewMockIsoDep(nil, []byte{0x80})))
	require.NoError(t, r.OpenPhysicalChannel())

	done := make(chan error, 1)
	go func() { done <- r.WaitForCardRemoval(context.Background()) }()
	require.Eventually(t, func() bool { return adapter.IgnoredCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TagRemovalDebounce, adapter.LastDebounce())
	assertStillWaiting(t, done)

	adapter.Remove()
	assert.NoError(t, waitResult(t, done))
}

func TestWaitForCardRemoval_SingleOutstandingWait(t *testing.T) {
	adapter := NewMockRemovalAdapter()
	r := newTestReader(t, adapter.Host())
	require.NoError(t, r.ActivateProtocol(ProtocolMifareClassic))
	require.NoError(t, r.OnStartDetection())
	adapter.Discover(NewMockTag(testUID, NewMockMifareClassic()))

	done := make(chan error, 1)
	go func() { done <- r.WaitForCardRemoval(context.Background()) }()
	require.Eventually(t, func() bool { return adapter.IgnoredCount() == 1 }, time.Second, 5*time.Millisecond)

	err := r.WaitForCardRemoval(context.Background())
	assert.True(t, IsInvalidStateError(err))

	r.StopWaitForCardRemoval()
	assert.ErrorIs(t, waitResult(t, done), ErrRemovalWaitStopped)
}

func TestWaitForCardRemoval_NativeIgnoreFailure(t *testing.T) {
	adapter := NewMockRemovalAdapter()
	adapter.IgnoreErr = errors.New("service unavailable")
	r := newTestReader(t, adapter.Host())
	require.NoError(t, r.ActivateProtocol(ProtocolMifareClassic))
	require.NoError(t, r.OnStartDetection())
	adapter.Discover(NewMockTag(testUID, NewMockMifareClassic()))

	err := r.WaitForCardRemoval(context.Background())
	assert.ErrorIs(t, err, ErrReaderIO)

	// The failed wait must not block the next one.
	adapter.IgnoreErr = nil
	done := make(chan error, 1)
	go func() { done <- r.WaitForCardRemoval(context.Background()) }()
	require.Eventually(t, func() bool { return adapter.IgnoredCount() == 1 }, time.Second, 5*time.Millisecond)
	adapter.Remove()
	assert.NoError(t, waitResult(t, done))
}

// immediateRemoval reports removal before watch returns, i.e. before the
// waiter reaches its select.
type immediateRemoval struct{}

func (immediateRemoval) name() string { return "immediate" }

func (immediateRemoval) watch(_ Tag, _ TagTechnology, removed func()) (func(), error) {
	removed()
	return func() {}, nil
}

func TestRemovalMonitor_SignalBeforeWaitIsNotLost(t *testing.T) {
	m := &removalMonitor{strategy: immediateRemoval{}}
	for i := 0; i < 100; i++ {
		require.NoError(t, m.wait(context.Background(), nil, nil))
	}
}

func TestRemovalWaiter_StaleGeneration(t *testing.T) {
	var w removalWaiter
	gen1, _, ok := w.begin()
	require.True(t, ok)
	require.True(t, w.signal(gen1, outcomeStopped))
	assert.Equal(t, outcomeStopped, w.end(gen1))

	gen2, done, ok := w.begin()
	require.True(t, ok)
	assert.False(t, w.signal(gen1, outcomeRemoved), "late signal from a finished wait is dropped")

	select {
	case <-done:
		t.Fatal("stale signal resolved the new wait")
	default:
	}
	require.True(t, w.signal(gen2, outcomeRemoved))
	assert.False(t, w.signal(gen2, outcomeStopped), "a resolved wait cannot be resolved twice")
	assert.Equal(t, outcomeRemoved, w.end(gen2))
}

func TestWaitForCardRemoval_NoTagBound(t *testing.T) {
	r, _ := startedReader(t)
	assert.NoError(t, r.WaitForCardRemoval(context.Background()))
}
