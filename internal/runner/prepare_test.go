package runner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anotherai/gateway/internal/domain"
)

func TestPrepareMessagesAppendsInput(t *testing.T) {
	version := domain.Version{
		Prompt: []domain.Message{
			{Role: domain.RoleSystem, Content: []domain.ContentPart{domain.NewTextPart("be brief")}},
		},
	}
	input := domain.AgentInput{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("hello")}},
	}}

	msgs, err := prepareMessages(version, input)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != domain.RoleSystem || msgs[1].Role != domain.RoleUser {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestPrepareMessagesRejectsEmpty(t *testing.T) {
	_, err := prepareMessages(domain.Version{}, domain.AgentInput{})
	if err == nil {
		t.Fatal("expected error for zero messages")
	}
}

func TestAppendSchemaInstruction(t *testing.T) {
	version := domain.Version{OutputSchema: json.RawMessage(`{"type":"object"}`)}
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("hi")}},
	}

	out := appendSchemaInstruction(msgs, version)
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if !strings.Contains(out[1].TextContent(), "JSON schema") {
		t.Errorf("instruction = %q", out[1].TextContent())
	}

	// A system prompt already covering the schema suppresses the tail.
	covered := []domain.Message{
		{Role: domain.RoleSystem, Content: []domain.ContentPart{domain.NewTextPart("reply per the JSON schema below")}},
		{Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("hi")}},
	}
	out = appendSchemaInstruction(covered, version)
	if len(out) != 2 {
		t.Errorf("instruction added despite existing coverage")
	}
}

func TestSanitizeFilesDownloads(t *testing.T) {
	payload := []byte("\x89PNG\r\n\x1a\nfakeimagebytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer server.Close()

	adapter := &scriptedAdapter{name: "fake"}
	// scriptedAdapter never requires downloads; wrap it.
	downloading := downloadingAdapter{adapter}

	msgs := []domain.Message{{
		Role: domain.RoleUser,
		Content: []domain.ContentPart{
			domain.NewFilePart(&domain.File{URL: server.URL, Format: domain.FormatImage}),
		},
	}}

	out, err := sanitizeFiles(context.Background(), server.Client(), downloading, msgs)
	if err != nil {
		t.Fatal(err)
	}
	file := out[0].Content[0].File
	if file.Data == "" {
		t.Fatal("file not downloaded")
	}
	decoded, _ := base64.StdEncoding.DecodeString(file.Data)
	if string(decoded) != string(payload) {
		t.Error("downloaded bytes mismatch")
	}
	if file.ContentType != "image/png" {
		t.Errorf("content type = %q", file.ContentType)
	}

	// The original message slice is untouched.
	if msgs[0].Content[0].File.Data != "" {
		t.Error("caller's messages were mutated")
	}
}

func TestSanitizeFilesRejectsMissingBoth(t *testing.T) {
	adapter := &scriptedAdapter{name: "fake"}
	msgs := []domain.Message{{
		Role:    domain.RoleUser,
		Content: []domain.ContentPart{domain.NewFilePart(&domain.File{})},
	}}
	_, err := sanitizeFiles(context.Background(), nil, adapter, msgs)
	re := asRunError(err)
	if re == nil || re.Kind != domain.KindInvalidFile {
		t.Fatalf("err = %v", err)
	}
}

// downloadingAdapter forces RequiresDownloadingFile true for URL files.
type downloadingAdapter struct {
	*scriptedAdapter
}

func (d downloadingAdapter) RequiresDownloadingFile(f domain.File) bool {
	return f.Data == ""
}
