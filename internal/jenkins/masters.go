package jenkins

import (
	"fmt"
	"net/url"

	"github.com/rflorenc/jenkins-workbench/internal/models"
	"go.uber.org/zap"
)

// ManagedMasterClass is the "_class" of managed master items on an
// operations center.
const ManagedMasterClass = "com.cloudbees.opscenter.server.model.ManagedMaster"

// Lifecycle actions accepted by MasterAction.
const (
	ActionProvisionAndStart = "provisionAndStartAction"
	ActionStop              = "stopAction"
	ActionRestart           = "restartAction"
	ActionAcknowledgeError  = "acknowledgeErrorAction"
)

// ManagedMaster is a managed master item as listed by the operations center.
type ManagedMaster struct {
	Class string `json:"_class"`
	URL   string `json:"url"`
	Name  string `json:"name"`
}

// ListManagedMasters lists the managed masters directly under path, which is
// the operations center root or a folder on it. Other item types are dropped.
func (c *Client) ListManagedMasters(path string) ([]ManagedMaster, error) {
	var resp struct {
		Jobs []ManagedMaster `json:"jobs"`
	}
	params := url.Values{"tree": {"jobs[_class,url,name]"}}
	if err := c.GetJSON(withSlash(c.resolve(path))+"api/json", params, &resp); err != nil {
		return nil, err
	}
	masters := []ManagedMaster{}
	for _, item := range resp.Jobs {
		if item.Class == ManagedMasterClass {
			masters = append(masters, item)
		}
	}
	return masters, nil
}

// GetManagedMaster returns the operations center view of a managed master.
func (c *Client) GetManagedMaster(masterURL string) (models.Resource, error) {
	var res models.Resource
	if err := c.GetJSON(withSlash(c.resolve(masterURL))+"api/json", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetManagedMasterEndpoint resolves the URL a managed master actually serves
// on. Results are memoized per master URL for the lifetime of the client.
// A master that reports no endpoint yet yields an *EndpointError.
func (c *Client) GetManagedMasterEndpoint(masterURL string) (string, error) {
	key := withSlash(c.resolve(masterURL))

	c.mu.Lock()
	endpoint, ok := c.endpoints[key]
	c.mu.Unlock()
	if ok {
		c.logger.Debug("endpoint cache hit", zap.String("master", key))
		return endpoint, nil
	}

	var resp struct {
		Endpoint string `json:"endpoint"`
	}
	if err := c.GetJSON(key+"api/json", url.Values{"tree": {"endpoint"}}, &resp); err != nil {
		return "", fmt.Errorf("resolving endpoint of %s: %w", key, err)
	}
	if resp.Endpoint == "" {
		return "", &EndpointError{MasterURL: key}
	}
	endpoint = withSlash(resp.Endpoint)

	c.mu.Lock()
	c.endpoints[key] = endpoint
	c.mu.Unlock()
	return endpoint, nil
}

// InvalidateEndpoint forgets the memoized endpoint of a managed master.
func (c *Client) InvalidateEndpoint(masterURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.endpoints, withSlash(c.resolve(masterURL)))
}

// MasterAction triggers a lifecycle action on a managed master through the
// operations center.
func (c *Client) MasterAction(masterURL, action string) (*Response, error) {
	switch action {
	case ActionProvisionAndStart, ActionStop, ActionRestart, ActionAcknowledgeError:
	default:
		return nil, fmt.Errorf("unknown managed master action %q", action)
	}
	return c.Post(withSlash(c.resolve(masterURL))+action, nil)
}
