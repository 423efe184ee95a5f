package jenkins

import (
	"strings"
	"testing"

	"github.com/rflorenc/jenkins-workbench/internal/xmldict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usernamePassword(id, password string) *xmldict.Dict {
	return xmldict.New().Set("com.cloudbees.plugins.credentials.impl.UsernamePasswordCredentialsImpl", xmldict.New().
		Set("scope", "GLOBAL").
		Set("id", id).
		Set("description", "deploy user").
		Set("username", "deployer").
		Set("password", password))
}

func TestCredentials_DomainLifecycle(t *testing.T) {
	c, srv := newFakeClient(t, "team-a")
	srv.PutJob("team-a", "app", []byte("<project/>"))
	masterURL := c.OperationsCenterURL() + "job/team-a/"

	domain := xmldict.New().Set("com.cloudbees.plugins.credentials.domains.Domain", xmldict.New().
		Set("name", "prod").
		Set("description", "production"))
	resp, err := c.CreateDomain(masterURL, "", domain)
	require.NoError(t, err)
	require.True(t, resp.OK(), "status %d: %s", resp.StatusCode, resp.Body)

	domains, err := c.ListDomains(masterURL, "")
	require.NoError(t, err)
	assert.Contains(t, domains, GlobalDomain)
	assert.Contains(t, domains, "prod")

	got, err := c.GetDomain(masterURL, "", "prod")
	require.NoError(t, err)
	assert.NotNil(t, got["credentials"])

	resp, err = c.DeleteDomain(masterURL, "", "prod")
	require.NoError(t, err)
	assert.True(t, resp.OK())

	_, err = c.GetDomain(masterURL, "", "prod")
	assert.True(t, IsNotFound(err))
}

func TestCredentials_CRUD(t *testing.T) {
	c, srv := newFakeClient(t, "team-a")
	masterURL := c.OperationsCenterURL() + "job/team-a/"

	resp, err := c.CreateDomainCredential(masterURL, "", "", usernamePassword("deploy", "s3cret"))
	require.NoError(t, err)
	require.True(t, resp.OK(), "status %d: %s", resp.StatusCode, resp.Body)

	resp, err = c.CreateDomainCredential(masterURL, "", GlobalDomain, usernamePassword("deploy", "other"))
	require.NoError(t, err)
	assert.True(t, IsConflict(resp.Err()))

	creds, err := c.ListDomainCredentials(masterURL, "", GlobalDomain)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "deploy", creds[0]["id"])

	config, err := c.GetDomainCredential(masterURL, "", GlobalDomain, "deploy")
	require.NoError(t, err)
	password, ok := config.Path("com.cloudbees.plugins.credentials.impl.UsernamePasswordCredentialsImpl/password")
	require.True(t, ok)
	assert.Equal(t, "s3cret", password)

	resp, err = c.UpdateDomainCredential(masterURL, "", GlobalDomain, "deploy", usernamePassword("deploy", "rotated"))
	require.NoError(t, err)
	require.True(t, resp.OK())
	assert.Contains(t, string(srv.Credential("team-a", GlobalDomain, "deploy")), "rotated")

	resp, err = c.DeleteDomainCredential(masterURL, "", GlobalDomain, "deploy")
	require.NoError(t, err)
	assert.True(t, resp.OK())

	creds, err = c.ListDomainCredentials(masterURL, "", GlobalDomain)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestCredentials_UnknownDomain(t *testing.T) {
	c, _ := newFakeClient(t, "team-a")

	_, err := c.ListDomainCredentials(c.OperationsCenterURL()+"job/team-a/", "", "nope")
	assert.True(t, IsNotFound(err))
}

func TestCreateFileCredential(t *testing.T) {
	c, srv := newFakeClient(t, "team-a")
	masterURL := c.OperationsCenterURL() + "job/team-a/"

	resp, err := c.CreateFileCredential(masterURL, "", GlobalDomain, "kubeconfig", "cluster access",
		"config.yaml", strings.NewReader("apiVersion: v1\n"))
	require.NoError(t, err)
	require.True(t, resp.OK(), "status %d: %s", resp.StatusCode, resp.Body)

	stored := string(srv.Credential("team-a", GlobalDomain, "kubeconfig"))
	assert.Contains(t, stored, fileCredentialsClass)
	assert.Contains(t, stored, "<fileName>config.yaml</fileName>")
	assert.Contains(t, stored, "apiVersion: v1")
}
