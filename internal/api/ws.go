package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rflorenc/jenkins-workbench/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamJobLogs tails the output of a build, inventory or copy-job job over
// WebSocket. Once the job is done and all lines were sent the socket is
// closed with the final status as reason, followed by the error of a failed
// job.
func (s *Server) StreamJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	offset := 0
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// Read the status first so lines appended before completion
			// are flushed before the close frame.
			done := job.Done()
			lines := job.LogsSince(offset)
			for _, line := range lines {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
					return
				}
				offset++
			}
			if done && len(lines) == 0 {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason(job)))
				return
			}
		}
	}
}

// maxCloseReason is the room a close frame leaves for its reason text.
const maxCloseReason = 123

func closeReason(job *models.Job) string {
	status, errText := job.Outcome()
	if errText == "" {
		return status
	}
	reason := status + ": " + errText
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason-3] + "..."
	}
	return reason
}
