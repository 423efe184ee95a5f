package operations

import (
	"context"
	"errors"
	"fmt"

	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
	"golang.org/x/sync/errgroup"
)

// inventoryConcurrency bounds the masters queried at once.
const inventoryConcurrency = 4

// MasterStatus is one managed master in an inventory.
type MasterStatus struct {
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	Endpoint string         `json:"endpoint,omitempty"`
	Ready    bool           `json:"ready"`
	Error    string         `json:"error,omitempty"`
	Jobs     map[string]int `json:"jobs,omitempty"` // status → count
}

// Inventory is a snapshot of the managed masters below one path.
type Inventory struct {
	OperationsCenter string         `json:"operations_center"`
	Masters          []MasterStatus `json:"masters"`
}

// TakeInventory lists the managed masters under ocPath and resolves their
// endpoints concurrently. Masters that are still provisioning are reported
// as not ready; any other failure aborts the inventory.
func TakeInventory(ctx context.Context, client *jenkins.Client, ocPath string, countJobs bool, logger func(string)) (*Inventory, error) {
	if ocPath == "" {
		ocPath = client.OperationsCenterURL()
	}
	logger("Listing managed masters under " + ocPath)
	masters, err := client.ListManagedMasters(ocPath)
	if err != nil {
		return nil, fmt.Errorf("listing managed masters: %w", err)
	}
	logger(fmt.Sprintf("  Found %d managed masters", len(masters)))

	inv := &Inventory{OperationsCenter: ocPath, Masters: make([]MasterStatus, len(masters))}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(inventoryConcurrency)
	for i, m := range masters {
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return egCtx.Err()
			}
			status, err := inspectMaster(client, m, countJobs)
			if err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			inv.Masters[i] = status
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, m := range inv.Masters {
		if m.Ready {
			logger(fmt.Sprintf("  READY: %s -> %s", m.Name, m.Endpoint))
		} else {
			logger(fmt.Sprintf("  NOT READY: %s (%s)", m.Name, m.Error))
		}
	}
	return inv, nil
}

func inspectMaster(client *jenkins.Client, m jenkins.ManagedMaster, countJobs bool) (MasterStatus, error) {
	status := MasterStatus{Name: m.Name, URL: m.URL}
	endpoint, err := client.GetManagedMasterEndpoint(m.URL)
	if errors.Is(err, jenkins.ErrEndpointNotReady) {
		status.Error = "still initializing"
		return status, nil
	}
	if err != nil {
		return status, err
	}
	status.Endpoint = endpoint
	status.Ready = true

	if countJobs {
		jobs, err := client.ListJobs(m.URL, "")
		if err != nil {
			return status, fmt.Errorf("listing jobs: %w", err)
		}
		status.Jobs = make(map[string]int)
		for _, j := range jobs {
			status.Jobs[jobStatus(j)]++
		}
	}
	return status, nil
}
