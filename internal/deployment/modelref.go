package deployment

import "strings"

// ModelRef is the decoded form of the "model" field of an
// OpenAI-compatible request: either a plain model id (optionally
// namespaced by an agent id) or a deployment reference.
type ModelRef struct {
	AgentID      string
	Model        string
	DeploymentID string
}

// IsDeployment reports whether the reference names a deployment.
func (r ModelRef) IsDeployment() bool { return r.DeploymentID != "" }

// ParseModelRef decodes the accepted model-string forms:
//
//	<model>
//	<agent_id>/<model>
//	anotherai/deployment/<deployment_id>
//	anotherai/deployments/<deployment_id>
//	deployment/<deployment_id>
//
// Legacy <agent>/#<schema>/<environment> references are rejected; only
// the deployment-id form is canonical.
func ParseModelRef(model string) ModelRef {
	for _, prefix := range []string{"anotherai/deployment/", "anotherai/deployments/", "deployment/"} {
		if strings.HasPrefix(model, prefix) {
			return ModelRef{DeploymentID: strings.TrimPrefix(model, prefix)}
		}
	}

	if slash := strings.Index(model, "/"); slash > 0 {
		agentID, rest := model[:slash], model[slash+1:]
		if !strings.HasPrefix(rest, "#") && agentID != "anotherai" {
			return ModelRef{AgentID: agentID, Model: rest}
		}
	}

	return ModelRef{Model: model}
}
