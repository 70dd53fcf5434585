// Package toolconv converts the gateway's neutral tool definitions into
// each vendor SDK's tool-schema type. Conversions are pure: vendor types
// out, no network, no state.
//
// Hosted tools are named with a leading "@" internally. No vendor accepts
// "@" in a function name, so every conversion strips it on the way out;
// adapters use NameMap to restore the internal form when the model calls
// the tool back.
package toolconv

import (
	"strings"

	"github.com/anotherai/gateway/internal/domain"
)

// WireName returns the vendor-facing name for a tool: the internal name
// with any hosted-tool "@" prefix removed.
func WireName(name string) string {
	return strings.TrimPrefix(name, "@")
}

// NameMap builds the wire-name → internal-name mapping for a request's
// tool list. Adapters consult it when parsing tool-call requests out of a
// vendor response so hosted tools come back in their internal "@" form.
func NameMap(tools []domain.Tool) map[string]string {
	if len(tools) == 0 {
		return nil
	}
	m := make(map[string]string, len(tools))
	for _, t := range tools {
		m[WireName(t.Name)] = t.Name
	}
	return m
}

// InternalName resolves a vendor-reported tool name back to its internal
// form using the request's name map, passing unknown names through.
func InternalName(nameMap map[string]string, wire string) string {
	if internal, ok := nameMap[wire]; ok {
		return internal
	}
	return wire
}
