package models

// Resource is a JSON object decoded from the Jenkins REST API.
type Resource map[string]interface{}

// Class returns the Jenkins "_class" discriminator of the resource.
func (r Resource) Class() string {
	v, _ := r["_class"].(string)
	return v
}

// Name returns the "name" field of the resource.
func (r Resource) Name() string {
	v, _ := r["name"].(string)
	return v
}

// URL returns the "url" field of the resource.
func (r Resource) URL() string {
	v, _ := r["url"].(string)
	return v
}
