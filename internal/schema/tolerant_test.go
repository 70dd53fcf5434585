package schema

import (
	"reflect"
	"testing"
)

func TestParseTolerantStrictJSON(t *testing.T) {
	v, err := ParseTolerant(`{"x":1}`)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, map[string]any{"x": 1.0}) {
		t.Errorf("v = %+v", v)
	}
}

func TestParseTolerantCodeFences(t *testing.T) {
	for _, raw := range []string{
		"```json\n{\"x\":1}\n```",
		"```\n{\"x\":1}\n```",
		"Here is the result:\n```json\n{\"x\":1}\n```",
	} {
		v, err := ParseTolerant(raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if !reflect.DeepEqual(v, map[string]any{"x": 1.0}) {
			t.Errorf("%q → %+v", raw, v)
		}
	}
}

func TestParseTolerantUnescapedControlChars(t *testing.T) {
	v, err := ParseTolerant("{\"s\":\"line one\n\tline two\"}")
	if err != nil {
		t.Fatal(err)
	}
	m := v.(map[string]any)
	if m["s"] != "line one\n\tline two" {
		t.Errorf("s = %q", m["s"])
	}
}

func TestParseTolerantTrailingGarbage(t *testing.T) {
	v, err := ParseTolerant(`{"x":1} and that is my answer`)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, map[string]any{"x": 1.0}) {
		t.Errorf("v = %+v", v)
	}
}

func TestParseTolerantTruncated(t *testing.T) {
	v, err := ParseTolerant(`{"x":1,"y":"part`)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["x"] != 1.0 || m["y"] != "part" {
		t.Errorf("v = %+v", v)
	}
}

func TestParseTolerantHopeless(t *testing.T) {
	if _, err := ParseTolerant("no json here at all"); err == nil {
		t.Error("expected error")
	}
}
