// Package deployment pins versions behind stable deployment ids and
// resolves inference requests against them, enforcing schema compatibility
// on updates.
package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/schema"
	"github.com/anotherai/gateway/internal/storage"
)

// Resolver manages deployments over the deployment and version stores.
type Resolver struct {
	Deployments storage.DeploymentStore
	Versions    storage.VersionStore

	// ConfirmBaseURL prefixes the confirmation URL handed back when an
	// upsert would update an existing deployment.
	ConfirmBaseURL string
}

// UpsertResult reports what an Upsert did: Created carries the new
// deployment; ConfirmationURL asks the caller to confirm an update of an
// existing one via PATCH.
type UpsertResult struct {
	Created         *domain.Deployment
	ConfirmationURL string
}

// Upsert creates deploymentID pinned to versionID, or, when the
// deployment already exists, checks compatibility and returns a
// confirmation URL for the update instead of applying it.
func (r *Resolver) Upsert(ctx context.Context, agentID, versionID, deploymentID, author string) (*UpsertResult, error) {
	version, err := r.Versions.Get(ctx, versionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: fmt.Sprintf("version %q does not exist", versionID)}
		}
		return nil, err
	}

	existing, err := r.Deployments.Get(ctx, deploymentID)
	if errors.Is(err, storage.ErrNotFound) {
		deployment := &domain.Deployment{
			ID:        deploymentID,
			AgentID:   agentID,
			VersionID: versionID,
			Version:   *version,
			CreatedBy: author,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.Deployments.Create(ctx, deployment); err != nil {
			return nil, err
		}
		return &UpsertResult{Created: deployment}, nil
	}
	if err != nil {
		return nil, err
	}

	if compatErr := checkCompatibility(existing.Version, *version); compatErr != nil {
		return nil, compatErr
	}

	return &UpsertResult{
		ConfirmationURL: fmt.Sprintf("%s/deployments/%s/confirm?version_id=%s",
			r.ConfirmBaseURL, url.PathEscape(deploymentID), versionID),
	}, nil
}

// Update applies a confirmed version change (the PATCH behind the
// confirmation URL), re-checking compatibility.
func (r *Resolver) Update(ctx context.Context, deploymentID, versionID string) (*domain.Deployment, error) {
	existing, err := r.Deployments.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	version, err := r.Versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if compatErr := checkCompatibility(existing.Version, *version); compatErr != nil {
		return nil, compatErr
	}

	existing.VersionID = versionID
	existing.Version = *version
	if err := r.Deployments.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// checkCompatibility enforces the structural rules between the deployed
// version's schemas and a candidate replacement's.
func checkCompatibility(existing, candidate domain.Version) *domain.RunError {
	switch {
	case existing.HasInputVariablesSchema() && !candidate.HasInputVariablesSchema():
		return &domain.RunError{Kind: domain.KindBadRequest, Message: "new version has no input variables schema but the deployed version does"}
	case !existing.HasInputVariablesSchema() && candidate.HasInputVariablesSchema():
		return &domain.RunError{Kind: domain.KindBadRequest, Message: "new version has an input variables schema but the deployed version does not"}
	case existing.HasOutputSchema() && !candidate.HasOutputSchema():
		return &domain.RunError{Kind: domain.KindBadRequest, Message: "new version has no output schema but the deployed version does"}
	case !existing.HasOutputSchema() && candidate.HasOutputSchema():
		return &domain.RunError{Kind: domain.KindBadRequest, Message: "new version has an output schema but the deployed version does not"}
	case !schema.StructurallyCompatible(existing.InputVariablesSchema, candidate.InputVariablesSchema):
		return &domain.RunError{Kind: domain.KindBadRequest, Message: "input variables schemas are structurally different"}
	case !schema.StructurallyCompatible(existing.OutputSchema, candidate.OutputSchema):
		return &domain.RunError{Kind: domain.KindBadRequest, Message: "output schemas are structurally different"}
	}
	return nil
}

// ResolveOverrides carries caller-supplied runtime overrides for Resolve.
type ResolveOverrides struct {
	Variables    json.RawMessage
	OutputSchema json.RawMessage
}

// Resolve returns the pinned version for a deployment, validating runtime
// variables against its input schema and merging a caller output schema
// only when structurally compatible with the pinned one.
func (r *Resolver) Resolve(ctx context.Context, deploymentID string, overrides ResolveOverrides) (*domain.Version, error) {
	deployment, err := r.Deployments.Get(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: fmt.Sprintf("deployment %q does not exist", deploymentID)}
		}
		return nil, err
	}

	version := deployment.Version

	hasVars := len(overrides.Variables) > 0 && string(overrides.Variables) != "null" && string(overrides.Variables) != "{}"
	if hasVars && !version.HasInputVariablesSchema() {
		return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: "Input variables are provided but the version does not support them"}
	}
	if hasVars {
		if err := schema.ValidateJSON(version.InputVariablesSchema, overrides.Variables); err != nil {
			return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: err.Error(), Cause: err}
		}
	}

	if len(overrides.OutputSchema) > 0 {
		if !schema.StructurallyCompatible(version.OutputSchema, overrides.OutputSchema) {
			return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: "caller output schema is incompatible with the deployed one"}
		}
		version.OutputSchema = overrides.OutputSchema
	}

	return &version, nil
}

// Archive hides a deployment from listings; it stays resolvable for
// existing callers.
func (r *Resolver) Archive(ctx context.Context, deploymentID string) error {
	deployment, err := r.Deployments.Get(ctx, deploymentID)
	if err != nil {
		return err
	}
	if deployment.Archived {
		return nil
	}
	now := time.Now().UTC()
	deployment.Archived = true
	deployment.ArchivedAt = &now
	return r.Deployments.Update(ctx, deployment)
}
