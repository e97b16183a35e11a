package pagemanager

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpgradableExcludesWriters(t *testing.T) {
	var m UpgradableRWMutex

	m.UpgradableRLock()
	require.False(t, m.TryLock(), "writer must not acquire while an upgradable reader holds the lock")
	m.UpgradableRUnlock()

	require.True(t, m.TryLock())
	m.Unlock()
}

func TestSharedReadersRunConcurrentlyWithUpgradable(t *testing.T) {
	var m UpgradableRWMutex

	m.UpgradableRLock()
	defer m.UpgradableRUnlock()

	// A plain reader must not block against the upgradable holder.
	done := make(chan struct{})
	go func() {
		m.RLock()
		m.RUnlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shared reader blocked against upgradable reader")
	}
}

func TestUpgradeWaitsForReadersToDrain(t *testing.T) {
	var m UpgradableRWMutex
	var upgraded atomic.Bool

	m.RLock() // outstanding shared reader

	m.UpgradableRLock()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.UpgradeLock()
		upgraded.Store(true)
		m.UpgradedUnlock()
	}()

	time.Sleep(50 * time.Millisecond)
	require.False(t, upgraded.Load(), "upgrade must wait for shared readers")

	m.RUnlock()
	wg.Wait()
	require.True(t, upgraded.Load())
}

func TestSingleUpgradableHolder(t *testing.T) {
	var m UpgradableRWMutex
	var second atomic.Bool

	m.UpgradableRLock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.UpgradableRLock()
		second.Store(true)
		m.UpgradableRUnlock()
	}()

	time.Sleep(50 * time.Millisecond)
	require.False(t, second.Load(), "at most one upgradable reader at a time")

	m.UpgradableRUnlock()
	wg.Wait()
	require.True(t, second.Load())
}

func TestUpgradeDowngradeRoundTrip(t *testing.T) {
	p := NewPage(7, 64)

	p.UpgradableRLock()
	p.UpgradeLock()
	p.GetData()[0] = 0xFF
	p.DowngradeLock()
	require.Equal(t, byte(0xFF), p.GetData()[0])
	p.UpgradableRUnlock()
}

func TestPageDirtyFlagAndPinMirror(t *testing.T) {
	p := NewPage(3, 128)
	require.Equal(t, PageID(3), p.GetPageID())
	require.Len(t, p.GetData(), 128)
	require.False(t, p.IsDirty())

	p.SetDirty(true)
	require.True(t, p.IsDirty())

	p.Pin()
	p.Pin()
	require.Equal(t, int32(2), p.GetPinCount())
	p.Unpin()
	p.Unpin()
	p.Unpin() // saturates at zero
	require.Equal(t, int32(0), p.GetPinCount())
}
