package operations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
)

// BuildRequest describes a build to trigger and follow.
type BuildRequest struct {
	MasterURL  string            `json:"master_url"`
	JobPath    string            `json:"job"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Interval   time.Duration     `json:"-"`
	Timeout    time.Duration     `json:"-"`
	// ShowLog copies the console text into the job output once the build
	// has finished.
	ShowLog bool `json:"show_log"`
}

// BuildAndWait schedules a build, waits for it to leave the queue and then
// for it to finish. A non-SUCCESS result is returned together with an error
// wrapping ErrBuildFailed.
func BuildAndWait(ctx context.Context, client *jenkins.Client, req BuildRequest, logger func(string)) (*jenkins.Build, error) {
	if req.Timeout <= 0 {
		req.Timeout = time.Hour
	}
	logger(fmt.Sprintf("Scheduling %s%s", req.JobPath, describeParams(req.Parameters)))
	id, err := client.BuildJob(req.MasterURL, req.JobPath, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("scheduling %s: %w", req.JobPath, err)
	}
	logger(fmt.Sprintf("  Queued as item %d", id))

	item, err := WaitForQueueItem(ctx, client, req.MasterURL, id, req.Interval, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger("  Cancelling queue item")
			if _, cerr := client.CancelQueueItem(req.MasterURL, id); cerr != nil {
				logger(fmt.Sprintf("  WARNING: cancel failed: %v", cerr))
			}
		}
		return nil, err
	}

	number := item.Executable.Number
	b, err := WaitForBuild(ctx, client, req.MasterURL, req.JobPath, number, req.Interval, req.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			logger(fmt.Sprintf("  Stopping build #%d", number))
			if _, serr := client.StopBuild(req.MasterURL, req.JobPath, number); serr != nil {
				logger(fmt.Sprintf("  WARNING: stop failed: %v", serr))
			}
		}
		return nil, err
	}

	if req.ShowLog {
		if text, err := client.GetConsoleText(req.MasterURL, req.JobPath, number); err != nil {
			logger(fmt.Sprintf("  WARNING: console log unavailable: %v", err))
		} else {
			logger("")
			for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
				logger("  | " + line)
			}
			logger("")
		}
	}

	logger(fmt.Sprintf("Build %s #%d finished: %s", req.JobPath, number, b.Result))
	if b.Result != "SUCCESS" {
		return b, fmt.Errorf("%s #%d: %s: %w", req.JobPath, number, b.Result, ErrBuildFailed)
	}
	return b, nil
}

func describeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
