package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks value against the given JSON schema (raw schema bytes).
func Validate(schemaBytes json.RawMessage, value any) error {
	compiled, err := compile(schemaBytes)
	if err != nil {
		return err
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateJSON parses raw JSON and validates it in one step.
func ValidateJSON(schemaBytes, valueBytes json.RawMessage) error {
	var value any
	if err := json.Unmarshal(valueBytes, &value); err != nil {
		return fmt.Errorf("schema: value is not valid JSON: %w", err)
	}
	return Validate(schemaBytes, value)
}

func compile(schemaBytes json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	// Drafts aside, model-authored schemas are often missing $schema; the
	// compiler's default draft handles them.
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaBytes)); err != nil {
		return nil, fmt.Errorf("schema: invalid schema document: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema: schema does not compile: %w", err)
	}
	return compiled, nil
}

// StructurallyCompatible reports whether two schemas describe the same
// object shape: same type, same property names (recursively), same array
// item shape. Annotations (description, title, examples) are ignored, so
// re-wording a deployed schema stays compatible while adding, removing,
// or re-typing a field does not.
func StructurallyCompatible(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == 0 && len(b) == 0
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return shapeEqual(av, bv)
}

func shapeEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok != bok {
		return false
	}
	if !aok {
		return reflect.DeepEqual(a, b)
	}

	if fmt.Sprint(am["type"]) != fmt.Sprint(bm["type"]) {
		return false
	}

	aProps, _ := am["properties"].(map[string]any)
	bProps, _ := bm["properties"].(map[string]any)
	if !sameKeys(aProps, bProps) {
		return false
	}
	for name, aSub := range aProps {
		if !shapeEqual(aSub, bProps[name]) {
			return false
		}
	}

	aItems, aHas := am["items"]
	bItems, bHas := bm["items"]
	if aHas != bHas {
		return false
	}
	if aHas && !shapeEqual(aItems, bItems) {
		return false
	}

	return true
}

func sameKeys(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	aKeys := make([]string, 0, len(a))
	for k := range a {
		aKeys = append(aKeys, k)
	}
	sort.Strings(aKeys)
	for _, k := range aKeys {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
