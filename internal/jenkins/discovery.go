package jenkins

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rflorenc/jenkins-workbench/internal/models"
	"go.uber.org/zap"
)

// MinimumVersion is the oldest operations center release the workbench is
// tested against.
const MinimumVersion = "2.222"

// PingResponse holds what the operations center reveals about itself.
type PingResponse struct {
	Version string `json:"version"` // X-Jenkins header
}

// Ping checks that the operations center answers. Any HTTP response carrying
// an X-Jenkins header counts, including 401 and 403.
func (c *Client) Ping() error {
	_, err := c.PingWithVersion()
	return err
}

// PingWithVersion calls the operations center root and reads the Jenkins
// version from the X-Jenkins response header.
func (c *Client) PingWithVersion() (*PingResponse, error) {
	resp, err := c.do(http.MethodGet, c.ocURL+"api/json", nil, "", nil)
	if err != nil {
		return nil, err
	}
	version := resp.Header.Get("X-Jenkins")
	if version == "" {
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s does not look like Jenkins (no X-Jenkins header)", c.ocURL)
	}
	return &PingResponse{Version: version}, nil
}

// CheckAuth verifies the credentials by asking who the caller is.
func (c *Client) CheckAuth() error {
	var me struct {
		ID string `json:"id"`
	}
	if err := c.GetJSON(c.ocURL+"me/api/json", nil, &me); err != nil {
		return err
	}
	if me.ID == "" || me.ID == "anonymous" {
		return fmt.Errorf("authenticated as anonymous: check username and API token")
	}
	return nil
}

// CompareVersions performs a simple dotted version comparison.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
// Handles partial versions (e.g. "2.440" vs "2.440.3.7").
func CompareVersions(a, b string) int {
	aParts := parseVersionParts(a)
	bParts := parseVersionParts(b)

	maxLen := len(aParts)
	if len(bParts) > maxLen {
		maxLen = len(bParts)
	}

	for i := 0; i < maxLen; i++ {
		var av, bv int
		if i < len(aParts) {
			av = aParts[i]
		}
		if i < len(bParts) {
			bv = bParts[i]
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// VersionAtLeast returns true if version >= min.
func VersionAtLeast(version, min string) bool {
	if version == "" || min == "" {
		return true
	}
	return CompareVersions(version, min) >= 0
}

func parseVersionParts(v string) []int {
	parts := strings.Split(v, ".")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		result = append(result, n)
	}
	return result
}

// DiscoverAndStore pings the operations center, checks credentials and
// records version and health on the connection. Failures are recorded, not
// returned.
func DiscoverAndStore(client *Client, conn *models.Connection, store *models.ConnectionStore, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("connection", conn.Name))

	ping, err := client.PingWithVersion()
	if err != nil {
		log.Warn("ping failed", zap.Error(err))
		store.SetHealth(conn.ID, "error", err.Error(), "unknown", "")
		return
	}
	store.SetVersion(conn.ID, ping.Version)
	log.Info("operations center reachable", zap.String("version", ping.Version))
	if !VersionAtLeast(ping.Version, MinimumVersion) {
		log.Warn("operations center is older than the minimum supported version",
			zap.String("version", ping.Version), zap.String("minimum", MinimumVersion))
	}

	if conn.Username == "" || conn.Token == "" {
		store.SetHealth(conn.ID, "ok", "", "error", "no credentials configured")
		return
	}
	if err := client.CheckAuth(); err != nil {
		log.Warn("authentication failed", zap.Error(err))
		store.SetHealth(conn.ID, "ok", "", "error", err.Error())
		return
	}
	store.SetHealth(conn.ID, "ok", "", "ok", "")
}
