package runner

import (
	"encoding/json"
	"strings"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/schema"
)

// validateOutput checks a completed response against the version's output
// schema: tolerant-parse the text, prune empty optionals, validate. On
// success the parsed object replaces the raw text as a structured part; on
// failure the error carries whatever partial output could be recovered.
func validateOutput(version domain.Version, parts []domain.ContentPart) ([]domain.ContentPart, *domain.RunError) {
	if !version.HasOutputSchema() {
		return parts, nil
	}

	var text strings.Builder
	for _, part := range parts {
		if part.Kind == domain.PartText {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		// Tool-call-only turns have nothing to validate yet.
		return parts, nil
	}

	value, err := schema.ParseTolerant(text.String())
	if err != nil {
		return parts, &domain.RunError{
			Kind:    domain.KindFailedGeneration,
			Message: "response is not parseable as JSON",
			Cause:   err,
		}
	}

	value = schema.SanitizeEmptyValues(value, version.OutputSchema)

	if err := schema.Validate(version.OutputSchema, value); err != nil {
		partial, _ := json.Marshal(value)
		return parts, &domain.RunError{
			Kind:    domain.KindInvalidGeneration,
			Message: err.Error(),
			Details: map[string]any{"partial_output": json.RawMessage(partial)},
			Cause:   err,
		}
	}

	structured, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		return parts, &domain.RunError{Kind: domain.KindInternalError, Cause: marshalErr}
	}

	out := make([]domain.ContentPart, 0, len(parts))
	replaced := false
	for _, part := range parts {
		if part.Kind == domain.PartText {
			if !replaced {
				out = append(out, domain.NewStructuredPart(structured))
				replaced = true
			}
			continue
		}
		out = append(out, part)
	}
	return out, nil
}
