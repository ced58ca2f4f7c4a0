package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/sdsx/internal/pipeline"
	"github.com/kalambet/sdsx/internal/retrieval"
	"github.com/kalambet/sdsx/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:    store,
		Pipeline: &mockPipeline{},
		Results:  &memRecords{},
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_ExtractDocument(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	saveTestDocument(t, store, "sample.pdf")

	result, err := mcpExtractDocument(deps)(context.Background(), makeCallToolRequest("extract_document", map[string]interface{}{
		"name": "sample.pdf",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var rec pipeline.DocumentRecord
	if err := json.Unmarshal([]byte(toolText(t, result)), &rec); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if rec.DocumentName != "sample.pdf" {
		t.Errorf("document_name = %q", rec.DocumentName)
	}
	if records, _ := deps.Results.List(); len(records) != 1 {
		t.Errorf("stored %d records, want 1", len(records))
	}
}

func TestMCPTool_ExtractDocument_Missing(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpExtractDocument(deps)(context.Background(), makeCallToolRequest("extract_document", map[string]interface{}{
		"name": "missing.pdf",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown document")
	}
	if !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("message = %q", toolText(t, result))
	}
}

func TestMCPTool_ExtractDocument_PipelineError(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	saveTestDocument(t, store, "sample.pdf")
	deps.Pipeline = &mockPipeline{runFn: func(context.Context, string) (*pipeline.DocumentRecord, error) {
		return nil, errors.New("vector index down")
	}}

	result, _ := mcpExtractDocument(deps)(context.Background(), makeCallToolRequest("extract_document", map[string]interface{}{
		"name": "sample.pdf",
	}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_SearchDocument(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	var gotTopK int
	deps.Pipeline = &mockPipeline{searchFn: func(_ context.Context, name, query string, topK int) ([]retrieval.ContextChunk, error) {
		gotTopK = topK
		return []retrieval.ContextChunk{{ID: "c1", Ordinal: 3, Text: "Flash point: -20 C", Score: 0.9}}, nil
	}}

	result, err := mcpSearchDocument(deps)(context.Background(), makeCallToolRequest("search_document", map[string]interface{}{
		"name":  "acetone.pdf",
		"query": "flash point",
		"limit": float64(100),
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if gotTopK != 50 {
		t.Errorf("topK = %d, want capped 50", gotTopK)
	}

	var chunks []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &chunks); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(chunks) != 1 || chunks[0]["text"] != "Flash point: -20 C" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestMCPTool_SearchDocument_RequiresQuery(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, _ := mcpSearchDocument(deps)(context.Background(), makeCallToolRequest("search_document", map[string]interface{}{
		"name": "acetone.pdf",
	}))
	if !result.IsError {
		t.Fatal("expected tool error without query")
	}
}

func TestMCPTool_ListDocuments(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	saveTestDocument(t, store, "a.pdf")

	result, err := mcpListDocuments(deps)(context.Background(), makeCallToolRequest("list_documents", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var docs []DocumentResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "a.pdf" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestMCPResource_Records(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Results.Append(&pipeline.DocumentRecord{DocumentName: "a.pdf", TotalTokens: 10})

	contents, err := mcpResourceRecords(deps)(context.Background(), makeReadResourceRequest(recordsURI))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != recordsURI {
		t.Errorf("URI = %q", tc.URI)
	}
	if !strings.Contains(tc.Text, `"document_name":"a.pdf"`) {
		t.Errorf("text = %s", tc.Text)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	saveTestDocument(t, store, "sample.pdf")

	extract := mcpExtractDocument(deps)
	list := mcpListDocuments(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := extract(context.Background(), makeCallToolRequest("extract_document", map[string]interface{}{"name": "sample.pdf"})); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := list(context.Background(), makeCallToolRequest("list_documents", nil)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
	if records, _ := deps.Results.List(); len(records) != 5 {
		t.Errorf("stored %d records, want 5", len(records))
	}
}

func TestNewMCPServer_Registers(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
