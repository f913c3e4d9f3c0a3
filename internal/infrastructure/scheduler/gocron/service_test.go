package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	scheduler "github.com/hero-dungeon/dungeond/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

func TestScheduler(t *testing.T) {
	svc := scheduler.NewScheduler()
	svc.Start()
	t.Cleanup(svc.Stop)

	t.Run("runs once", func(t *testing.T) {
		var count atomic.Int32
		err := svc.ScheduleTaskOnce("run-once", 50*time.Millisecond, func() {
			count.Add(1)
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return count.Load() == 1
		}, time.Second, 10*time.Millisecond)
		time.Sleep(200 * time.Millisecond)
		require.Equal(t, int32(1), count.Load())
	})

	t.Run("cancel", func(t *testing.T) {
		var count atomic.Int32
		err := svc.ScheduleTaskOnce("canceled", 100*time.Millisecond, func() {
			count.Add(1)
		})
		require.NoError(t, err)
		svc.CancelTask("canceled")
		svc.CancelTask("unknown")

		time.Sleep(300 * time.Millisecond)
		require.Zero(t, count.Load())
	})

	t.Run("reschedule replaces", func(t *testing.T) {
		var first, second atomic.Int32
		require.NoError(t, svc.ScheduleTaskOnce("replaced", 100*time.Millisecond, func() {
			first.Add(1)
		}))
		require.NoError(t, svc.ScheduleTaskOnce("replaced", 50*time.Millisecond, func() {
			second.Add(1)
		}))

		require.Eventually(t, func() bool {
			return second.Load() == 1
		}, time.Second, 10*time.Millisecond)
		time.Sleep(200 * time.Millisecond)
		require.Zero(t, first.Load())
	})

	t.Run("invalid delay", func(t *testing.T) {
		err := svc.ScheduleTaskOnce("invalid", 0, func() {})
		require.ErrorContains(t, err, "invalid delay")
	})
}
