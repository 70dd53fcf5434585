package schema

import (
	"encoding/json"
	"reflect"
	"testing"
)

var objectSchema = json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer"}},"required":["x"]}`)

func TestValidateAcceptsConforming(t *testing.T) {
	if err := ValidateJSON(objectSchema, json.RawMessage(`{"x":1}`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRejectsWrongType(t *testing.T) {
	if err := ValidateJSON(objectSchema, json.RawMessage(`{"x":"one"}`)); err == nil {
		t.Error("expected type error")
	}
	if err := ValidateJSON(objectSchema, json.RawMessage(`{}`)); err == nil {
		t.Error("expected required error")
	}
}

func TestStructurallyCompatible(t *testing.T) {
	a := json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer"}}}`)
	sameShapeDifferentDocs := json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer","description":"renamed"}}}`)
	extraField := json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer"},"y":{"type":"string"}}}`)
	retyped := json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`)

	if !StructurallyCompatible(a, sameShapeDifferentDocs) {
		t.Error("annotation changes must stay compatible")
	}
	if StructurallyCompatible(a, extraField) {
		t.Error("added field must be incompatible")
	}
	if StructurallyCompatible(a, retyped) {
		t.Error("retyped field must be incompatible")
	}
	if !StructurallyCompatible(nil, nil) {
		t.Error("both absent is compatible")
	}
	if StructurallyCompatible(a, nil) || StructurallyCompatible(nil, a) {
		t.Error("present vs absent is incompatible")
	}
}

func TestStructurallyCompatibleArrays(t *testing.T) {
	a := json.RawMessage(`{"type":"array","items":{"type":"object","properties":{"n":{"type":"integer"}}}}`)
	b := json.RawMessage(`{"type":"array","items":{"type":"object","properties":{"n":{"type":"integer"}}}}`)
	c := json.RawMessage(`{"type":"array","items":{"type":"string"}}`)

	if !StructurallyCompatible(a, b) {
		t.Error("identical array schemas must match")
	}
	if StructurallyCompatible(a, c) {
		t.Error("different item shapes must not match")
	}
}

func TestSanitizeSchemaStrictness(t *testing.T) {
	in := json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer","default":3,"format":"int32"}}}`)
	out := SanitizeSchema(in)

	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatal(err)
	}
	if m["additionalProperties"] != false {
		t.Error("additionalProperties must be pinned false")
	}
	if !reflect.DeepEqual(m["required"], []any{"x"}) {
		t.Errorf("required = %v", m["required"])
	}
	x := m["properties"].(map[string]any)["x"].(map[string]any)
	if _, has := x["default"]; has {
		t.Error("default must be dropped")
	}
	if _, has := x["format"]; has {
		t.Error("format must be dropped")
	}
}

func TestSanitizeEmptyValues(t *testing.T) {
	schemaBytes := json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer"},"notes":{"type":"string"}},"required":["x"]}`)
	in := map[string]any{"x": 1.0, "notes": nil}
	out := SanitizeEmptyValues(in, schemaBytes).(map[string]any)

	if _, has := out["notes"]; has {
		t.Error("optional null must be pruned")
	}
	if out["x"] != 1.0 {
		t.Error("required field must survive")
	}

	// A required null survives for the validator to report properly.
	in = map[string]any{"x": nil}
	out = SanitizeEmptyValues(in, schemaBytes).(map[string]any)
	if _, has := out["x"]; !has {
		t.Error("required null must not be pruned")
	}
}

func TestInferSchema(t *testing.T) {
	got, err := InferSchema(json.RawMessage(`{"name":"Toulouse","count":3,"ratio":0.5,"tags":["a"]}`))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(got, &m); err != nil {
		t.Fatal(err)
	}
	props := m["properties"].(map[string]any)
	if props["name"].(map[string]any)["type"] != "string" {
		t.Error("name should infer string")
	}
	if props["count"].(map[string]any)["type"] != "integer" {
		t.Error("count should infer integer")
	}
	if props["ratio"].(map[string]any)["type"] != "number" {
		t.Error("ratio should infer number")
	}
	tags := props["tags"].(map[string]any)
	if tags["type"] != "array" || tags["items"].(map[string]any)["type"] != "string" {
		t.Error("tags should infer array of string")
	}
}
