package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunNow_InvokesPurge(t *testing.T) {
	var calls int32
	s := New(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)

	require.NoError(t, s.Upsert(Task{ID: "purge", Type: TaskTypePurge, Enabled: true, CronExpr: "@every 1h"}))
	s.Start()
	defer s.Stop()

	s.RunNow("purge")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 10*time.Millisecond)
}

func TestRunNow_Disabled_DoesNothing(t *testing.T) {
	var calls int32
	s := New(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)
	require.NoError(t, s.Upsert(Task{ID: "purge", Type: TaskTypePurge, Enabled: false, CronExpr: "@every 1h"}))
	s.Start()
	defer s.Stop()

	s.RunNow("purge")
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestRunTask_CoalescesConcurrentRequests(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{}, 2)
	var calls int32

	s := New(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		return nil
	}, nil)
	require.NoError(t, s.Upsert(Task{ID: "purge", Type: TaskTypePurge, Enabled: true, CronExpr: "@every 1h"}))
	s.Start()
	defer s.Stop()

	go s.RunNow("purge")
	<-started

	// Requested again while the first run is still in flight: must
	// coalesce into a single pending re-run, not queue one per call.
	s.RunNow("purge")
	s.RunNow("purge")

	release <- struct{}{}
	<-started // the coalesced re-run starting
	release <- struct{}{}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 10*time.Millisecond)
}

func TestArchiveWatch_TriggersOnWALSegmentCreate(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	done := make(chan struct{}, 1)

	s := New(nil, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, s.Upsert(Task{
		ID: "watch", Type: TaskTypeArchiveWatch, Enabled: true,
		WatchPath: dir, DebounceMs: 20,
	}))
	s.Start()
	defer s.Stop()

	walName := "0000000100000000000000AB"
	require.NoError(t, os.WriteFile(filepath.Join(dir, walName), []byte("wal"), 0600))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("archive backup callback was not invoked")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestArchiveWatch_IgnoresNonWALNames(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	s := New(nil, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, s.Upsert(Task{
		ID: "watch", Type: TaskTypeArchiveWatch, Enabled: true,
		WatchPath: dir, DebounceMs: 20,
	}))
	s.Start()
	defer s.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-wal-segment.tmp"), []byte("x"), 0600))
	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestLooksLikeWALSegment(t *testing.T) {
	require.True(t, looksLikeWALSegment("0000000100000000000000AB"))
	require.False(t, looksLikeWALSegment("too_short"))
	require.False(t, looksLikeWALSegment("0000000100000000000000ZZ"))
}

func TestRemove_StopsTask(t *testing.T) {
	var calls int32
	s := New(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)
	require.NoError(t, s.Upsert(Task{ID: "purge", Type: TaskTypePurge, Enabled: true, CronExpr: "@every 1h"}))
	s.Start()
	defer s.Stop()

	s.Remove("purge")
	s.RunNow("purge")
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}
