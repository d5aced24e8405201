package ollama

// Requirement is a model the backend needs before it can serve requests.
type Requirement struct {
	ID          string `json:"id" mapstructure:"id"`
	Description string `json:"description" mapstructure:"description"`
}

// DefaultRequirements must match the backend's configured models.
var DefaultRequirements = []Requirement{
	{ID: "olmo-3:7b-instruct", Description: "Main AI model (~4.5GB)"},
	{ID: "phi4-mini:latest", Description: "Fast AI model (~2.5GB)"},
	{ID: "snowflake-arctic-embed2", Description: "Embedding model (~1.2GB)"},
}

// Label returns the description, or the identifier when no description is set.
func (r Requirement) Label() string {
	if r.Description != "" {
		return r.Description
	}
	return r.ID
}
