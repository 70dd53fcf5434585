package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anotherai/gateway/internal/domain"
)

func TestVersionStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryVersionStore()

	v := domain.Version{Model: "gpt-4.1"}
	id1, err := s.Put(ctx, v)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Put(ctx, v)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %s vs %s", id1, id2)
	}

	got, err := s.Get(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "gpt-4.1" {
		t.Errorf("Model = %q", got.Model)
	}
}

func TestCompletionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCompletionStore()

	c := &domain.AgentCompletion{ID: domain.NewCompletionID(), AgentID: "test-agent"}
	if err := s.Create(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, c); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create = %v", err)
	}

	c.AgentID = "renamed"
	if err := s.Update(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "renamed" {
		t.Errorf("AgentID = %q", got.AgentID)
	}

	// The store hands out copies; mutating a result must not leak back.
	got.AgentID = "mutated"
	again, _ := s.Get(ctx, c.ID)
	if again.AgentID != "renamed" {
		t.Error("store leaked internal state")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing get = %v", err)
	}
	if _, err := s.Query(ctx, "SELECT 1"); !errors.Is(err, ErrQueryUnsupported) {
		t.Errorf("query = %v", err)
	}
}

func TestExperimentStoreCells(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExperimentStore()

	exp := &domain.Experiment{ID: "exp-1", AgentID: "test-agent"}
	if err := s.Create(ctx, exp); err != nil {
		t.Fatal(err)
	}

	ref := ExperimentCompletionRef{
		ExperimentID: "exp-1",
		VersionID:    "v1",
		InputID:      "i1",
		CompletionID: "c1",
	}
	if err := s.SetCompletion(ctx, ref); err != nil {
		t.Fatal(err)
	}
	// Overwriting the same cell flips it terminal rather than duplicating.
	ref.Terminal = true
	if err := s.SetCompletion(ctx, ref); err != nil {
		t.Fatal(err)
	}

	refs, err := s.Completions(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || !refs[0].Terminal {
		t.Errorf("refs = %+v", refs)
	}

	if err := s.SetCompletion(ctx, ExperimentCompletionRef{ExperimentID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown experiment = %v", err)
	}
}

func TestDeploymentStoreListHidesArchived(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDeploymentStore()

	active := &domain.Deployment{ID: "a:production#1", AgentID: "a"}
	archived := &domain.Deployment{ID: "a:staging#1", AgentID: "a", Archived: true}
	if err := s.Create(ctx, active); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, archived); err != nil {
		t.Fatal(err)
	}

	visible, err := s.List(ctx, "a", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].ID != "a:production#1" {
		t.Errorf("visible = %+v", visible)
	}

	all, _ := s.List(ctx, "a", true)
	if len(all) != 2 {
		t.Errorf("all = %d", len(all))
	}

	// Archived deployments stay resolvable by id for back-compat.
	if _, err := s.Get(ctx, "a:staging#1"); err != nil {
		t.Errorf("archived get = %v", err)
	}
}

func TestInputStoreContentAddressing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryInputStore()

	in := domain.AgentInput{Variables: json.RawMessage(`{"name":"Toulouse"}`)}
	id, err := s.Put(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 32 {
		t.Errorf("id length = %d, want 32", len(id))
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Variables) != `{"name":"Toulouse"}` {
		t.Errorf("Variables = %s", got.Variables)
	}
}
