package operations

import (
	"context"
	"fmt"
	"strings"

	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
	"github.com/rflorenc/jenkins-workbench/internal/xmldict"
)

// CopyRequest copies jobs from one managed master to another.
type CopyRequest struct {
	SourceMaster string   `json:"source_master" validate:"required"`
	DestMaster   string   `json:"dest_master" validate:"required"`
	Jobs         []string `json:"jobs" validate:"required,min=1,dive,required"`
	DestFolder   string   `json:"dest_folder"`
	// Overwrite replaces the config of jobs that already exist.
	Overwrite bool `json:"overwrite"`
	// Disable marks the copies disabled so they do not start building.
	Disable bool `json:"disable"`
}

// CopyResult lists what happened to each requested job.
type CopyResult struct {
	Created []string          `json:"created"`
	Updated []string          `json:"updated"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed"`
}

// CopyJobs reads each job's config.xml from the source master and creates it
// on the destination. A failing job is recorded and the copy moves on.
func CopyJobs(ctx context.Context, client *jenkins.Client, req CopyRequest, logger func(string)) (*CopyResult, error) {
	result := &CopyResult{
		Created: []string{},
		Updated: []string{},
		Skipped: []string{},
		Failed:  map[string]string{},
	}
	logger(fmt.Sprintf("Copying %d jobs from %s to %s", len(req.Jobs), req.SourceMaster, req.DestMaster))
	for _, jobPath := range req.Jobs {
		if ctx.Err() != nil {
			logger("Copy cancelled by user")
			return result, ctx.Err()
		}
		action, err := copyJob(client, req, jobPath)
		if err != nil {
			logger(fmt.Sprintf("  FAIL: %s: %v", jobPath, err))
			result.Failed[jobPath] = err.Error()
			continue
		}
		switch action {
		case "created":
			logger(fmt.Sprintf("  CREATED: %s", jobPath))
			result.Created = append(result.Created, jobPath)
		case "updated":
			logger(fmt.Sprintf("  UPDATED: %s", jobPath))
			result.Updated = append(result.Updated, jobPath)
		default:
			logger(fmt.Sprintf("  SKIP (exists): %s", jobPath))
			result.Skipped = append(result.Skipped, jobPath)
		}
	}
	logger(fmt.Sprintf("Done: %d created, %d updated, %d skipped, %d failed",
		len(result.Created), len(result.Updated), len(result.Skipped), len(result.Failed)))
	return result, nil
}

// CopyJob copies a single job. It is CopyJobs for one path, failing on the
// first error.
func CopyJob(ctx context.Context, client *jenkins.Client, srcMaster, dstMaster, jobPath, dstFolder string, logger func(string)) error {
	res, err := CopyJobs(ctx, client, CopyRequest{
		SourceMaster: srcMaster,
		DestMaster:   dstMaster,
		Jobs:         []string{jobPath},
		DestFolder:   dstFolder,
	}, logger)
	if err != nil {
		return err
	}
	if msg, ok := res.Failed[jobPath]; ok {
		return fmt.Errorf("copying %s: %s", jobPath, msg)
	}
	return nil
}

func copyJob(client *jenkins.Client, req CopyRequest, jobPath string) (string, error) {
	config, err := client.GetJobConfig(req.SourceMaster, jobPath)
	if err != nil {
		return "", fmt.Errorf("reading config: %w", err)
	}
	if req.Disable {
		if err := disable(config); err != nil {
			return "", err
		}
	}

	name := leafName(jobPath)
	target := strings.Trim(req.DestFolder+"/"+name, "/")
	_, err = client.GetJob(req.DestMaster, target)
	switch {
	case err == nil:
		if !req.Overwrite {
			return "skipped", nil
		}
		resp, err := client.UpdateJobConfig(req.DestMaster, target, config)
		if err != nil {
			return "", err
		}
		if err := resp.Err(); err != nil {
			return "", err
		}
		return "updated", nil
	case !jenkins.IsNotFound(err):
		return "", fmt.Errorf("checking destination: %w", err)
	}

	resp, err := client.CreateJob(req.DestMaster, req.DestFolder, name, config)
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", err
	}
	return "created", nil
}

// disable sets <disabled>true</disabled> on jobs that support it. Pipeline
// and folder configs have no such element and are left alone.
func disable(config *xmldict.Dict) error {
	_, root, err := config.Root()
	if err != nil {
		return err
	}
	body, ok := root.(*xmldict.Dict)
	if !ok {
		return nil
	}
	if _, has := body.Get("disabled"); has {
		body.Set("disabled", "true")
	}
	return nil
}
