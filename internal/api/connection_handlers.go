package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
	"github.com/rflorenc/jenkins-workbench/internal/models"
)

// connectionView hides the API token of a connection in responses.
func connectionView(conn *models.Connection) models.Connection {
	view := *conn
	view.Token = conn.MaskedToken()
	return view
}

func (s *Server) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var conn models.Connection
	if !decodeJSON(w, r, &conn) {
		return
	}
	if conn.OperationsCenter == "" {
		conn.OperationsCenter = models.DefaultOperationsCenter
	}
	s.Connections.Create(&conn)
	writeJSON(w, http.StatusCreated, connectionView(&conn))
}

func (s *Server) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.Connections.List()
	views := make([]models.Connection, 0, len(conns))
	for _, c := range conns {
		views = append(views, connectionView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn := s.Connections.Get(chi.URLParam(r, "id"))
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, connectionView(conn))
}

func (s *Server) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing := s.Connections.Get(id)
	if existing == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	var conn models.Connection
	if !decodeJSON(w, r, &conn) {
		return
	}
	conn.ID = id
	if conn.OperationsCenter == "" {
		conn.OperationsCenter = models.DefaultOperationsCenter
	}
	// An omitted or masked token keeps the stored one.
	if conn.Token == "" || conn.Token == existing.MaskedToken() {
		conn.Token = existing.Token
	}
	conn.PingStatus, conn.AuthStatus = "unknown", "unknown"
	if !s.Connections.Update(&conn) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	s.forgetClient(id)
	writeJSON(w, http.StatusOK, connectionView(&conn))
}

func (s *Server) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Connections.Delete(id) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	s.forgetClient(id)
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection pings the operations center, checks the credentials and
// records the outcome on the connection.
func (s *Server) TestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn := s.Connections.Get(id)
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	jenkins.DiscoverAndStore(s.jenkinsClient(conn), conn, s.Connections, s.logger())

	conn = s.Connections.Get(id)
	resp := map[string]interface{}{
		"ok":          conn.PingStatus == "ok" && conn.AuthStatus == "ok",
		"ping_status": conn.PingStatus,
		"auth_status": conn.AuthStatus,
		"version":     conn.Version,
	}
	if conn.PingError != "" {
		resp["error"] = conn.PingError
	} else if conn.AuthError != "" {
		resp["error"] = conn.AuthError
	}
	writeJSON(w, http.StatusOK, resp)
}
