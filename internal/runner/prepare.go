package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/providers"
)

// maxDownloadBytes caps file downloads; anything larger is rejected as an
// invalid file rather than buffered.
const maxDownloadBytes = 50 << 20

// prepareMessages renders the version's prompt template with the input's
// variables, appends the input's messages, and adds the JSON-instruction
// tail when structured generation is off but an output schema is set.
func prepareMessages(version domain.Version, input domain.AgentInput) ([]domain.Message, error) {
	var messages []domain.Message

	for _, tmpl := range version.Prompt {
		rendered := domain.Message{Role: tmpl.Role}
		for _, part := range tmpl.Content {
			if part.Kind == domain.PartText && HasTemplateReferences(part.Text) {
				text, err := RenderTemplate(part.Text, input.Variables)
				if err != nil {
					return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: err.Error(), Cause: err}
				}
				rendered.Content = append(rendered.Content, domain.NewTextPart(text))
				continue
			}
			rendered.Content = append(rendered.Content, part)
		}
		messages = append(messages, rendered)
	}

	messages = append(messages, input.Messages...)
	if len(messages) == 0 {
		return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: "request has no messages", Cause: domain.ErrEmptyMessages}
	}
	return messages, nil
}

// appendSchemaInstruction adds a trailing system instruction asking for a
// single JSON object matching the output schema, used when the provider
// call will not enforce the schema natively. Skipped when the existing
// system prompt already covers it.
func appendSchemaInstruction(messages []domain.Message, version domain.Version) []domain.Message {
	if !version.HasOutputSchema() {
		return messages
	}
	for _, msg := range messages {
		if msg.Role != domain.RoleSystem && msg.Role != domain.RoleDeveloper {
			continue
		}
		if strings.Contains(msg.TextContent(), "JSON schema") {
			return messages
		}
	}

	instruction := fmt.Sprintf(
		"Return a single JSON object and nothing else. The object must conform to the following JSON schema:\n%s",
		string(version.OutputSchema),
	)
	return append(messages, domain.Message{
		Role:    domain.RoleSystem,
		Content: []domain.ContentPart{domain.NewTextPart(instruction)},
	})
}

// sanitizeFiles fills missing content types and downloads any file the
// chosen adapter cannot take by reference. Messages are copied on write;
// the caller's slice is never mutated.
func sanitizeFiles(ctx context.Context, client *http.Client, adapter providers.Adapter, messages []domain.Message) ([]domain.Message, error) {
	out := make([]domain.Message, len(messages))
	copy(out, messages)

	for mi, msg := range out {
		var rewritten []domain.ContentPart
		changed := false
		for _, part := range msg.Content {
			if part.Kind != domain.PartFile || part.File == nil {
				rewritten = append(rewritten, part)
				continue
			}
			file := *part.File
			if !file.Valid() {
				return nil, &domain.RunError{Kind: domain.KindInvalidFile, Message: "file has neither data nor url"}
			}
			if file.Data != "" && file.NeedsContentTypeSniff() {
				if err := sniffContentType(&file); err != nil {
					return nil, err
				}
				changed = true
			}
			if adapter.RequiresDownloadingFile(file) {
				if err := downloadFile(ctx, client, &file); err != nil {
					return nil, err
				}
				changed = true
			}
			rewritten = append(rewritten, domain.NewFilePart(&file))
		}
		if changed {
			out[mi].Content = rewritten
		}
	}
	return out, nil
}

func sniffContentType(file *domain.File) error {
	data, err := base64.StdEncoding.DecodeString(file.Data)
	if err != nil {
		return &domain.RunError{Kind: domain.KindInvalidFile, Message: "file data is not valid base64", Cause: err}
	}
	file.ContentType = http.DetectContentType(data)
	return nil
}

func downloadFile(ctx context.Context, client *http.Client, file *domain.File) error {
	if file.URL == "" {
		return &domain.RunError{Kind: domain.KindInvalidFile, Message: "file must be downloaded but has no url"}
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return &domain.RunError{Kind: domain.KindInvalidFile, Message: "invalid file url", Cause: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &domain.RunError{Kind: domain.KindInvalidFile, Message: "file url is unreachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.RunError{Kind: domain.KindInvalidFile, Message: fmt.Sprintf("file url returned status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return &domain.RunError{Kind: domain.KindInvalidFile, Message: "failed to read file body", Cause: err}
	}
	if len(data) > maxDownloadBytes {
		return &domain.RunError{Kind: domain.KindInvalidFile, Message: "file exceeds the download size limit"}
	}

	file.Data = base64.StdEncoding.EncodeToString(data)
	if file.ContentType == "" {
		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/octet-stream") {
			file.ContentType = strings.SplitN(ct, ";", 2)[0]
		} else {
			file.ContentType = http.DetectContentType(data)
		}
	}
	return nil
}
