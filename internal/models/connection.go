package models

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultOperationsCenter is the path segment CloudBees CI uses for the
// operations center when it shares a host with its managed masters.
const DefaultOperationsCenter = "cjoc"

// Connection represents a user-configured CloudBees operations center.
type Connection struct {
	ID               string `json:"id"`
	Name             string `json:"name" validate:"required"`
	URL              string `json:"url" validate:"required,url"` // e.g. "https://ci.example.com"
	OperationsCenter string `json:"operations_center"`           // path segment, "cjoc" by default
	Username         string `json:"username"`
	Token            string `json:"token,omitempty"`
	Insecure         bool   `json:"insecure"` // skip TLS verification
	CACert           string `json:"ca_cert,omitempty"`

	Version     string     `json:"version,omitempty"`
	PingStatus  string     `json:"ping_status"` // "ok", "error", "unknown"
	PingError   string     `json:"ping_error,omitempty"`
	AuthStatus  string     `json:"auth_status"` // "ok", "error", "unknown"
	AuthError   string     `json:"auth_error,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// BaseURL returns the connection URL without a trailing slash.
func (c *Connection) BaseURL() string {
	return strings.TrimRight(c.URL, "/")
}

// OperationsCenterURL returns the operations center root, with a trailing slash.
func (c *Connection) OperationsCenterURL() string {
	oc := strings.Trim(c.OperationsCenter, "/")
	if oc == "" {
		return c.BaseURL() + "/"
	}
	return c.BaseURL() + "/" + oc + "/"
}

// MasterURL returns the operations center item URL of a managed master.
func (c *Connection) MasterURL(name string) string {
	return c.OperationsCenterURL() + "job/" + strings.Trim(name, "/") + "/"
}

// MaskedToken returns a placeholder for display when a token is set.
func (c *Connection) MaskedToken() string {
	if c.Token == "" {
		return ""
	}
	return "••••••••"
}

// ConnectionStore is an in-memory thread-safe store for connections.
type ConnectionStore struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionStore creates an empty connection store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{conns: make(map[string]*Connection)}
}

// Create adds a new connection, assigning it a UUID.
func (s *ConnectionStore) Create(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uuid.New().String()
	c.PingStatus = "unknown"
	c.AuthStatus = "unknown"
	s.conns[c.ID] = c
}

// Get returns a connection by ID, or nil if not found.
func (s *ConnectionStore) Get(id string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// FindByName returns the first connection with the given name, or nil.
func (s *ConnectionStore) FindByName(name string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// List returns all connections.
func (s *ConnectionStore) List() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		result = append(result, c)
	}
	return result
}

// Update replaces an existing connection's settings.
func (s *ConnectionStore) Update(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.ID]; !ok {
		return false
	}
	s.conns[c.ID] = c
	return true
}

// Delete removes a connection by ID.
func (s *ConnectionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; !ok {
		return false
	}
	delete(s.conns, id)
	return true
}

// SetHealth records the result of a ping and an authentication check.
func (s *ConnectionStore) SetHealth(id, pingStatus, pingError, authStatus, authError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return
	}
	now := time.Now()
	c.PingStatus = pingStatus
	c.PingError = pingError
	c.AuthStatus = authStatus
	c.AuthError = authError
	c.LastChecked = &now
}

// SetVersion records the Jenkins version reported by the operations center.
func (s *ConnectionStore) SetVersion(id, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[id]; ok {
		c.Version = version
	}
}
