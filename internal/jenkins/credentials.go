package jenkins

import (
	"encoding/json"
	"io"
	"net/url"

	"github.com/rflorenc/jenkins-workbench/internal/models"
	"github.com/rflorenc/jenkins-workbench/internal/xmldict"
)

// GlobalDomain is the name of the default credential domain.
const GlobalDomain = "_"

// fileCredentialsClass is the plain-credentials implementation for secret files.
const fileCredentialsClass = "org.jenkinsci.plugins.plaincredentials.impl.FileCredentialsImpl"

// storeURL returns the folder credential store of a project.
func (c *Client) storeURL(masterURL, projectPath string) (string, error) {
	u, err := c.itemURL(masterURL, projectPath)
	if err != nil {
		return "", err
	}
	return u + "credentials/store/folder/", nil
}

func (c *Client) domainURL(masterURL, projectPath, domain string) (string, error) {
	store, err := c.storeURL(masterURL, projectPath)
	if err != nil {
		return "", err
	}
	if domain == "" {
		domain = GlobalDomain
	}
	return store + "domain/" + url.PathEscape(domain) + "/", nil
}

func (c *Client) credentialURL(masterURL, projectPath, domain, id string) (string, error) {
	d, err := c.domainURL(masterURL, projectPath, domain)
	if err != nil {
		return "", err
	}
	return d + "credential/" + url.PathEscape(id) + "/", nil
}

// ListDomains returns the credential domains of a project, keyed by name.
func (c *Client) ListDomains(masterURL, projectPath string) (map[string]models.Resource, error) {
	store, err := c.storeURL(masterURL, projectPath)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Domains map[string]models.Resource `json:"domains"`
	}
	if err := c.GetJSON(store+"api/json", url.Values{"depth": {"1"}}, &resp); err != nil {
		return nil, err
	}
	if resp.Domains == nil {
		resp.Domains = map[string]models.Resource{}
	}
	return resp.Domains, nil
}

// GetDomain returns one credential domain.
func (c *Client) GetDomain(masterURL, projectPath, domain string) (models.Resource, error) {
	u, err := c.domainURL(masterURL, projectPath, domain)
	if err != nil {
		return nil, err
	}
	var res models.Resource
	if err := c.GetJSON(u+"api/json", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// CreateDomain creates a credential domain from its XML description.
func (c *Client) CreateDomain(masterURL, projectPath string, config *xmldict.Dict) (*Response, error) {
	store, err := c.storeURL(masterURL, projectPath)
	if err != nil {
		return nil, err
	}
	return c.postXML(store+"createDomain", nil, config)
}

// DeleteDomain deletes a credential domain with all its credentials.
func (c *Client) DeleteDomain(masterURL, projectPath, domain string) (*Response, error) {
	u, err := c.domainURL(masterURL, projectPath, domain)
	if err != nil {
		return nil, err
	}
	return c.Post(u+"doDelete", nil)
}

// ListDomainCredentials lists the credentials of a domain. Secrets are never
// part of the listing.
func (c *Client) ListDomainCredentials(masterURL, projectPath, domain string) ([]models.Resource, error) {
	u, err := c.domainURL(masterURL, projectPath, domain)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Credentials []models.Resource `json:"credentials"`
	}
	params := url.Values{"tree": {"credentials[id,displayName,typeName,description,fullName]"}}
	if err := c.GetJSON(u+"api/json", params, &resp); err != nil {
		return nil, err
	}
	if resp.Credentials == nil {
		resp.Credentials = []models.Resource{}
	}
	return resp.Credentials, nil
}

// GetDomainCredential returns the config.xml of a credential as a Dict.
func (c *Client) GetDomainCredential(masterURL, projectPath, domain, id string) (*xmldict.Dict, error) {
	u, err := c.credentialURL(masterURL, projectPath, domain, id)
	if err != nil {
		return nil, err
	}
	data, err := c.Get(u+"config.xml", nil)
	if err != nil {
		return nil, err
	}
	return xmldict.Parse(data)
}

// CreateDomainCredential creates a credential in a domain from its XML form.
func (c *Client) CreateDomainCredential(masterURL, projectPath, domain string, config *xmldict.Dict) (*Response, error) {
	u, err := c.domainURL(masterURL, projectPath, domain)
	if err != nil {
		return nil, err
	}
	return c.postXML(u+"createCredentials", nil, config)
}

// UpdateDomainCredential replaces the config.xml of a credential.
func (c *Client) UpdateDomainCredential(masterURL, projectPath, domain, id string, config *xmldict.Dict) (*Response, error) {
	u, err := c.credentialURL(masterURL, projectPath, domain, id)
	if err != nil {
		return nil, err
	}
	return c.postXML(u+"config.xml", nil, config)
}

// DeleteDomainCredential deletes a credential.
func (c *Client) DeleteDomainCredential(masterURL, projectPath, domain, id string) (*Response, error) {
	u, err := c.credentialURL(masterURL, projectPath, domain, id)
	if err != nil {
		return nil, err
	}
	return c.Post(u+"doDelete", nil)
}

// CreateFileCredential uploads a secret file credential. The file travels as
// a multipart part referenced from the form's JSON payload.
func (c *Client) CreateFileCredential(masterURL, projectPath, domain, id, description, fileName string, content io.Reader) (*Response, error) {
	u, err := c.domainURL(masterURL, projectPath, domain)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"": "0",
		"credentials": map[string]string{
			"scope":       "GLOBAL",
			"id":          id,
			"description": description,
			"file":        "file0",
			"$class":      fileCredentialsClass,
		},
	})
	if err != nil {
		return nil, err
	}
	return c.Post(u+"createCredentials", &PostRequest{
		Form:  url.Values{"json": {string(payload)}},
		Files: map[string]File{"file0": {Name: fileName, Content: content}},
	})
}
