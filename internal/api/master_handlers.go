package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
	"github.com/rflorenc/jenkins-workbench/internal/models"
	"github.com/rflorenc/jenkins-workbench/internal/xmldict"
)

// masterTarget is what every /masters/{master} handler needs.
type masterTarget struct {
	conn      *models.Connection
	client    *jenkins.Client
	masterURL string
}

func (s *Server) connectionFor(w http.ResponseWriter, r *http.Request) (*models.Connection, bool) {
	conn := s.Connections.Get(chi.URLParam(r, "id"))
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return nil, false
	}
	return conn, true
}

func (s *Server) masterFor(w http.ResponseWriter, r *http.Request) (*masterTarget, bool) {
	conn, ok := s.connectionFor(w, r)
	if !ok {
		return nil, false
	}
	return &masterTarget{
		conn:      conn,
		client:    s.jenkinsClient(conn),
		masterURL: conn.MasterURL(chi.URLParam(r, "master")),
	}, true
}

// ListMasters lists the managed masters of the operations center, or of
// the operations center folder given by ?folder=.
func (s *Server) ListMasters(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connectionFor(w, r)
	if !ok {
		return
	}
	path := conn.OperationsCenterURL()
	if folder := r.URL.Query().Get("folder"); folder != "" {
		path = jenkins.JobURL(path, folder)
	}
	masters, err := s.jenkinsClient(conn).ListManagedMasters(path)
	if err != nil {
		writeJenkinsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, masters)
}

// GetMaster returns the operations center view of a master together with
// its resolved endpoint.
func (s *Server) GetMaster(w http.ResponseWriter, r *http.Request) {
	t, ok := s.masterFor(w, r)
	if !ok {
		return
	}
	master, err := t.client.GetManagedMaster(t.masterURL)
	if err != nil {
		writeJenkinsError(w, err)
		return
	}
	resp := map[string]interface{}{
		"name":  master.Name(),
		"class": master.Class(),
		"url":   t.masterURL,
	}
	endpoint, err := t.client.GetManagedMasterEndpoint(t.masterURL)
	switch {
	case errors.Is(err, jenkins.ErrEndpointNotReady):
		resp["ready"] = false
	case err != nil:
		writeJenkinsError(w, err)
		return
	default:
		resp["ready"] = true
		resp["endpoint"] = endpoint
	}
	writeJSON(w, http.StatusOK, resp)
}

// MasterAction starts, stops or restarts a managed master.
func (s *Server) MasterAction(w http.ResponseWriter, r *http.Request) {
	t, ok := s.masterFor(w, r)
	if !ok {
		return
	}
	resp, err := t.client.MasterAction(t.masterURL, chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := resp.Err(); err != nil {
		writeJenkinsError(w, err)
		return
	}
	// Lifecycle changes move the endpoint.
	t.client.InvalidateEndpoint(t.masterURL)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) ListMasterJobs(w http.ResponseWriter, r *http.Request) {
	t, ok := s.masterFor(w, r)
	if !ok {
		return
	}
	jobs, err := t.client.ListJobs(t.masterURL, r.URL.Query().Get("folder"))
	if err != nil {
		writeJenkinsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJobConfig returns the config.xml of ?job= as an ordered JSON document,
// or as XML with ?format=xml.
func (s *Server) GetJobConfig(w http.ResponseWriter, r *http.Request) {
	t, ok := s.masterFor(w, r)
	if !ok {
		return
	}
	jobPath := r.URL.Query().Get("job")
	if jobPath == "" {
		writeError(w, http.StatusBadRequest, "job is required")
		return
	}
	data, err := t.client.GetJobConfigXML(t.masterURL, jobPath)
	if err != nil {
		writeJenkinsError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "xml" {
		w.Header().Set("Content-Type", "application/xml")
		w.Write(data)
		return
	}
	config, err := xmldict.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadGateway, "unreadable config.xml: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, config)
}

// PutJobConfig replaces the config.xml of ?job=. The body is either the
// JSON document GetJobConfig returns or raw XML.
func (s *Server) PutJobConfig(w http.ResponseWriter, r *http.Request) {
	t, ok := s.masterFor(w, r)
	if !ok {
		return
	}
	jobPath := r.URL.Query().Get("job")
	if jobPath == "" {
		writeError(w, http.StatusBadRequest, "job is required")
		return
	}
	config, err := readConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := t.client.UpdateJobConfig(t.masterURL, jobPath, config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := resp.Err(); err != nil {
		writeJenkinsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func readConfig(r *http.Request) (*xmldict.Dict, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/xml" || mediaType == "text/xml" {
		return xmldict.Parse(body)
	}
	config := xmldict.New()
	if err := config.UnmarshalJSON(body); err != nil {
		return nil, err
	}
	return config, nil
}

func (s *Server) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	t, ok := s.masterFor(w, r)
	if !ok {
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "item"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queue item id")
		return
	}
	item, err := t.client.GetQueueItem(t.masterURL, id)
	if err != nil {
		writeJenkinsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ListCredentials lists the credentials of ?domain= (global by default) in
// the store of ?folder= (the master root by default).
func (s *Server) ListCredentials(w http.ResponseWriter, r *http.Request) {
	t, ok := s.masterFor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	creds, err := t.client.ListDomainCredentials(t.masterURL, q.Get("folder"), q.Get("domain"))
	if err != nil {
		writeJenkinsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}
