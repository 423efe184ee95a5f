package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/rflorenc/jenkins-workbench/internal/models"
	"github.com/rflorenc/jenkins-workbench/internal/operations"
	"go.uber.org/zap"
)

type buildRequest struct {
	Job        string            `json:"job" validate:"required"`
	Parameters map[string]string `json:"parameters"`
	ShowLog    bool              `json:"show_log"`
}

// RunBuild schedules a build and follows it in an async job.
func (s *Server) RunBuild(w http.ResponseWriter, r *http.Request) {
	t, ok := s.masterFor(w, r)
	if !ok {
		return
	}
	var req buildRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	job := s.Jobs.Create("build", t.conn.ID)
	s.run(job, func(logger func(string)) (interface{}, error) {
		b, err := operations.BuildAndWait(job.Context(), t.client, operations.BuildRequest{
			MasterURL:  t.masterURL,
			JobPath:    req.Job,
			Parameters: req.Parameters,
			Interval:   s.PollInterval,
			ShowLog:    req.ShowLog,
		}, logger)
		if b == nil {
			return nil, err
		}
		return b, err
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// RunInventory lists the managed masters and their readiness in an async
// job. ?jobs=true also counts the jobs of each ready master.
func (s *Server) RunInventory(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connectionFor(w, r)
	if !ok {
		return
	}
	countJobs, _ := strconv.ParseBool(r.URL.Query().Get("jobs"))
	client := s.jenkinsClient(conn)

	job := s.Jobs.Create("inventory", conn.ID)
	s.run(job, func(logger func(string)) (interface{}, error) {
		logger(fmt.Sprintf("Inventory of %s (%s)", conn.Name, conn.OperationsCenterURL()))
		inv, err := operations.TakeInventory(job.Context(), client, "", countJobs, logger)
		if err != nil {
			return nil, err
		}
		return inv, nil
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type copyJobRequest struct {
	ConnectionID string `json:"connection_id" validate:"required"`
	operations.CopyRequest
}

// RunCopyJob copies jobs between two managed masters of one connection.
// Masters are given by name.
func (s *Server) RunCopyJob(w http.ResponseWriter, r *http.Request) {
	var req copyJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conn := s.Connections.Get(req.ConnectionID)
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	copyReq := req.CopyRequest
	copyReq.SourceMaster = conn.MasterURL(req.SourceMaster)
	copyReq.DestMaster = conn.MasterURL(req.DestMaster)
	client := s.jenkinsClient(conn)

	job := s.Jobs.Create("copy-job", conn.ID)
	s.run(job, func(logger func(string)) (interface{}, error) {
		res, err := operations.CopyJobs(job.Context(), client, copyReq, logger)
		if err == nil && len(res.Failed) > 0 {
			err = fmt.Errorf("%d of %d jobs failed", len(res.Failed), len(copyReq.Jobs))
		}
		return res, err
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// run executes fn in the background, feeding its output into job and
// recording its result and final status.
func (s *Server) run(job *models.Job, fn func(logger func(string)) (interface{}, error)) {
	log := s.logger().With(zap.String("job", job.ID), zap.String("type", job.Type))
	go func() {
		result, err := fn(job.AppendLog)
		if result != nil {
			job.SetResult(result)
		}
		switch {
		case job.Context().Err() != nil:
			log.Info("job cancelled")
		case err != nil:
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error())
			log.Warn("job failed", zap.Error(err))
		default:
			job.Complete()
			log.Info("job completed")
		}
	}()
}
