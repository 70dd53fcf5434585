package domain

import "time"

// Deployment pins an agent to one immutable Version behind a stable id, so
// callers can update prompts/models without redeploying client code.
// Grounded on the original's deployment_service: an id of the form
// "<agent>/deployments/<name>" resolving to a specific Version.ID().
type Deployment struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	VersionID string `json:"version_id"`
	Version   Version `json:"version"`

	Archived   bool      `json:"archived,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreatedBy string `json:"created_by,omitempty"`
}

// CompatibleWithInput reports whether candidate input variables/messages
// match what the deployed Version's schemas expect. A Version with no
// input-variables schema rejects any input that supplies variables, and
// vice versa — mirrors the original's exact check in
// deployment_service_test.py ("Input variables are provided but the
// version does not support them").
func (d Deployment) CompatibleWithInput(in AgentInput) (bool, string) {
	hasVars := len(in.Variables) > 0 && string(in.Variables) != "null" && string(in.Variables) != "{}"
	if hasVars && !d.Version.HasInputVariablesSchema() {
		return false, "Input variables are provided but the version does not support them"
	}
	if !hasVars && d.Version.HasInputVariablesSchema() {
		return false, "Version requires input variables but none were provided"
	}
	return true, ""
}
