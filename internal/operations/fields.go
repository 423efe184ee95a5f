package operations

import (
	"encoding/json"
	"strings"

	"github.com/rflorenc/jenkins-workbench/internal/models"
)

// Job states derived from the "color" Jenkins reports for a job.
const (
	StatusSuccess  = "success"
	StatusUnstable = "unstable"
	StatusFailure  = "failure"
	StatusAborted  = "aborted"
	StatusDisabled = "disabled"
	StatusNotBuilt = "notbuilt"
	StatusBuilding = "building"
	StatusFolder   = "folder"
)

// jobStatus maps a job's color ("blue", "red_anime", ...) onto a status.
// Items without a color are folders or other containers.
func jobStatus(r models.Resource) string {
	color := stringField(r, "color")
	if color == "" {
		return StatusFolder
	}
	if strings.HasSuffix(color, "_anime") {
		return StatusBuilding
	}
	switch color {
	case "blue", "green":
		return StatusSuccess
	case "yellow":
		return StatusUnstable
	case "red":
		return StatusFailure
	case "aborted":
		return StatusAborted
	case "disabled", "grey":
		return StatusDisabled
	}
	return StatusNotBuilt
}

// stringField safely extracts a string field, returning "" if nil.
func stringField(obj map[string]interface{}, field string) string {
	if v, ok := obj[field].(string); ok {
		return v
	}
	return ""
}

// intField safely extracts an int field from a map.
func intField(obj map[string]interface{}, field string) int {
	return toInt(obj[field])
}

// nestedInt navigates {section}.{field}, e.g. lastBuild.number.
func nestedInt(r models.Resource, section, field string) int {
	sec, ok := r[section].(map[string]interface{})
	if !ok {
		return 0
	}
	return intField(sec, field)
}

// leafName returns the last segment of a slash-separated item path.
func leafName(jobPath string) string {
	jobPath = strings.Trim(jobPath, "/")
	if i := strings.LastIndexByte(jobPath, '/'); i >= 0 {
		return jobPath[i+1:]
	}
	return jobPath
}

// toInt converts various numeric types to int.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
