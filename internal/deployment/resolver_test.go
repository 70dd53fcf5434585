package deployment

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/storage"
)

var (
	inputSchema  = json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
	outputSchema = json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer"}}}`)
)

func newResolver(t *testing.T) (*Resolver, storage.StoreSet) {
	t.Helper()
	stores := storage.NewMemoryStoreSet()
	return &Resolver{
		Deployments:    stores.Deployments,
		Versions:       stores.Versions,
		ConfirmBaseURL: "https://gateway.example.com/v1",
	}, stores
}

func putVersion(t *testing.T, stores storage.StoreSet, v domain.Version) string {
	t.Helper()
	id, err := stores.Versions.Put(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestUpsertCreatesDeployment(t *testing.T) {
	r, stores := newResolver(t)
	ctx := context.Background()
	versionID := putVersion(t, stores, domain.Version{Model: "gpt-4.1"})

	result, err := r.Upsert(ctx, "test-agent", versionID, "test-agent:production#1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if result.Created == nil || result.ConfirmationURL != "" {
		t.Fatalf("result = %+v", result)
	}
	if result.Created.VersionID != versionID || result.Created.CreatedBy != "alice" {
		t.Errorf("created = %+v", result.Created)
	}
}

func TestUpsertUnknownVersionRejected(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.Upsert(context.Background(), "a", "0000", "d", "alice")
	re, ok := err.(*domain.RunError)
	if !ok || re.Kind != domain.KindBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestUpsertExistingReturnsConfirmationURL(t *testing.T) {
	r, stores := newResolver(t)
	ctx := context.Background()
	v1 := putVersion(t, stores, domain.Version{Model: "gpt-4.1"})
	v2 := putVersion(t, stores, domain.Version{Model: "gpt-4o"})

	if _, err := r.Upsert(ctx, "a", v1, "a:production#1", "alice"); err != nil {
		t.Fatal(err)
	}
	result, err := r.Upsert(ctx, "a", v2, "a:production#1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != nil || result.ConfirmationURL == "" {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.ConfirmationURL, "a:production%231") && !strings.Contains(result.ConfirmationURL, "a:production#1") {
		t.Errorf("url = %q", result.ConfirmationURL)
	}
}

func TestSchemaCompatibilityRules(t *testing.T) {
	r, stores := newResolver(t)
	ctx := context.Background()

	withInput := putVersion(t, stores, domain.Version{Model: "gpt-4.1", InputVariablesSchema: inputSchema})
	without := putVersion(t, stores, domain.Version{Model: "gpt-4.1"})
	withOutput := putVersion(t, stores, domain.Version{Model: "gpt-4.1", OutputSchema: outputSchema})
	differentShape := putVersion(t, stores, domain.Version{
		Model:                "gpt-4.1",
		InputVariablesSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	})

	cases := []struct {
		name      string
		first     string
		second    string
		wantError bool
	}{
		{"input schema removed", withInput, without, true},
		{"input schema added", without, withInput, true},
		{"output schema added", without, withOutput, true},
		{"different input shape", withInput, differentShape, true},
		{"identical", withInput, withInput, false},
	}
	for _, tc := range cases {
		deploymentID := "dep-" + tc.name
		if _, err := r.Upsert(ctx, "a", tc.first, deploymentID, "alice"); err != nil {
			t.Fatalf("%s: seed: %v", tc.name, err)
		}
		_, err := r.Upsert(ctx, "a", tc.second, deploymentID, "alice")
		if tc.wantError {
			re, ok := err.(*domain.RunError)
			if !ok || re.Kind != domain.KindBadRequest {
				t.Errorf("%s: err = %v, want bad_request", tc.name, err)
			}
		} else if err != nil {
			t.Errorf("%s: unexpected err %v", tc.name, err)
		}
	}
}

func TestResolveValidatesVariables(t *testing.T) {
	r, stores := newResolver(t)
	ctx := context.Background()
	versionID := putVersion(t, stores, domain.Version{Model: "gpt-4.1", InputVariablesSchema: inputSchema})
	if _, err := r.Upsert(ctx, "a", versionID, "a:prod#1", "alice"); err != nil {
		t.Fatal(err)
	}

	version, err := r.Resolve(ctx, "a:prod#1", ResolveOverrides{Variables: json.RawMessage(`{"name":"John"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if version.Model != "gpt-4.1" {
		t.Errorf("model = %q", version.Model)
	}

	// Wrong type fails validation.
	if _, err := r.Resolve(ctx, "a:prod#1", ResolveOverrides{Variables: json.RawMessage(`{"name":5}`)}); err == nil {
		t.Error("invalid variables accepted")
	}
}

func TestResolveRejectsVariablesWithoutSchema(t *testing.T) {
	r, stores := newResolver(t)
	ctx := context.Background()
	versionID := putVersion(t, stores, domain.Version{Model: "gpt-4.1"})
	if _, err := r.Upsert(ctx, "a", versionID, "a:prod#1", "alice"); err != nil {
		t.Fatal(err)
	}

	_, err := r.Resolve(ctx, "a:prod#1", ResolveOverrides{Variables: json.RawMessage(`{"name":"John"}`)})
	re, ok := err.(*domain.RunError)
	if !ok || re.Kind != domain.KindBadRequest {
		t.Fatalf("err = %v", err)
	}
	if re.Message != "Input variables are provided but the version does not support them" {
		t.Errorf("message = %q", re.Message)
	}
}

func TestResolveMergesCompatibleOutputSchema(t *testing.T) {
	r, stores := newResolver(t)
	ctx := context.Background()
	versionID := putVersion(t, stores, domain.Version{Model: "gpt-4.1", OutputSchema: outputSchema})
	if _, err := r.Upsert(ctx, "a", versionID, "a:prod#1", "alice"); err != nil {
		t.Fatal(err)
	}

	// Same shape, extra description: merges.
	compatible := json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer","description":"the x"}}}`)
	version, err := r.Resolve(ctx, "a:prod#1", ResolveOverrides{OutputSchema: compatible})
	if err != nil {
		t.Fatal(err)
	}
	if string(version.OutputSchema) != string(compatible) {
		t.Error("caller schema not merged")
	}

	// Different shape: rejected.
	incompatible := json.RawMessage(`{"type":"object","properties":{"y":{"type":"integer"}}}`)
	if _, err := r.Resolve(ctx, "a:prod#1", ResolveOverrides{OutputSchema: incompatible}); err == nil {
		t.Error("incompatible schema merged")
	}
}

func TestArchiveHidesButKeepsResolvable(t *testing.T) {
	r, stores := newResolver(t)
	ctx := context.Background()
	versionID := putVersion(t, stores, domain.Version{Model: "gpt-4.1"})
	if _, err := r.Upsert(ctx, "a", versionID, "a:prod#1", "alice"); err != nil {
		t.Fatal(err)
	}

	if err := r.Archive(ctx, "a:prod#1"); err != nil {
		t.Fatal(err)
	}
	listed, err := stores.Deployments.List(ctx, "a", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Error("archived deployment still listed")
	}
	if _, err := r.Resolve(ctx, "a:prod#1", ResolveOverrides{}); err != nil {
		t.Errorf("archived deployment not resolvable: %v", err)
	}
}

func TestParseModelRef(t *testing.T) {
	cases := []struct {
		in   string
		want ModelRef
	}{
		{"gpt-4.1", ModelRef{Model: "gpt-4.1"}},
		{"my-agent/gpt-4.1", ModelRef{AgentID: "my-agent", Model: "gpt-4.1"}},
		{"anotherai/deployment/a:prod#1", ModelRef{DeploymentID: "a:prod#1"}},
		{"anotherai/deployments/a:prod#1", ModelRef{DeploymentID: "a:prod#1"}},
		{"deployment/a:prod#1", ModelRef{DeploymentID: "a:prod#1"}},
		// Legacy schema/environment form is not a deployment reference.
		{"my-agent/#1/production", ModelRef{Model: "my-agent/#1/production"}},
	}
	for _, tc := range cases {
		got := ParseModelRef(tc.in)
		if got != tc.want {
			t.Errorf("ParseModelRef(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
