// Package operations implements multi-step workflows on top of the jenkins
// client: waiting for queued builds, inventories and job copies. Progress is
// reported line by line through a logger callback so it can be streamed to
// an async job.
package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matryer/try"
	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
)

var (
	// ErrStillPending is returned when a queue item did not leave the queue
	// within try.MaxRetries polls.
	ErrStillPending = errors.New("still pending")

	// ErrQueueItemCancelled is returned when a queue item was cancelled
	// before it turned into a build.
	ErrQueueItemCancelled = errors.New("queue item cancelled")

	// ErrBuildFailed is returned by BuildAndWait for any result other than
	// SUCCESS.
	ErrBuildFailed = errors.New("build did not succeed")
)

// DefaultInterval is the pause between two polls.
const DefaultInterval = 3 * time.Second

// WaitForQueueItem polls a queue item until it has an executable. The number
// of polls is bounded by try.MaxRetries.
func WaitForQueueItem(ctx context.Context, client *jenkins.Client, masterURL string, id int, interval time.Duration, logger func(string)) (*jenkins.QueueItem, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	var item *jenkins.QueueItem
	lastWhy := ""
	err := try.Do(func(attempt int) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		var err error
		item, err = client.GetQueueItem(masterURL, id)
		if err != nil {
			return false, err
		}
		if item.Cancelled {
			return false, fmt.Errorf("queue item %d: %w", id, ErrQueueItemCancelled)
		}
		if !item.Pending() {
			return false, nil
		}
		if item.Why != lastWhy {
			logger(fmt.Sprintf("  Queue item %d waiting: %s", id, item.Why))
			lastWhy = item.Why
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return false, err
		}
		return true, ErrStillPending
	})
	if try.IsMaxRetries(err) {
		return item, fmt.Errorf("queue item %d after %d polls: %w", id, try.MaxRetries, ErrStillPending)
	}
	if err != nil {
		return item, err
	}
	logger(fmt.Sprintf("  Queue item %d started build #%d", id, item.Executable.Number))
	return item, nil
}

// WaitForBuild polls a build until it stops building or timeout elapses.
func WaitForBuild(ctx context.Context, client *jenkins.Client, masterURL, jobPath string, number int, interval, timeout time.Duration) (*jenkins.Build, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b, err := client.GetBuild(masterURL, jobPath, number)
		if err != nil {
			return nil, err
		}
		if !b.Building {
			return b, nil
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("timeout waiting for %s #%d", jobPath, number)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
