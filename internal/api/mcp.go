package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sdsx/internal/pipeline"
	"github.com/kalambet/sdsx/internal/storage"
)

const recordsURI = "sdsx://records"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Pipeline DocumentPipeline
	Results  RecordLog
}

// NewMCPServer creates an MCP server with the extraction tools and the
// records resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sdsx",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sdsx extracts structured sections from uploaded safety data sheets."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("extract_document",
			mcp.WithDescription("Run section extraction on an uploaded SDS and return the assembled record."),
			mcp.WithString("name", mcp.Description("Document file name, e.g. acetone.pdf"), mcp.Required()),
		),
		mcpExtractDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("search_document",
			mcp.WithDescription("Return the chunks of an uploaded SDS closest to a query."),
			mcp.WithString("name", mcp.Description("Document file name"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of chunks (default 4)")),
		),
		mcpSearchDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 50)")),
		),
		mcpListDocuments(deps),
	)

	s.AddResource(
		mcp.NewResource(
			recordsURI,
			"Extracted Records",
			mcp.WithResourceDescription("All extracted document records as a JSON array"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecords(deps),
	)

	return s
}

func mcpExtractDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		if _, err := deps.Store.GetDocument(name); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("document %q not found", name)), nil
			}
			return mcpError(fmt.Sprintf("failed to get document: %v", err)), nil
		}

		rec, err := deps.Pipeline.Run(ctx, name)
		if err != nil {
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}
		if err := deps.Results.Append(rec); err != nil {
			return mcpError(fmt.Sprintf("extracted but failed to store record: %v", err)), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 4)
		if limit <= 0 {
			limit = 4
		}
		if limit > 50 {
			limit = 50
		}

		chunks, err := deps.Pipeline.Search(ctx, name, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type chunkResult struct {
			ID      string  `json:"id"`
			Ordinal int     `json:"ordinal"`
			Page    int     `json:"page,omitempty"`
			Text    string  `json:"text"`
			Score   float32 `json:"score"`
		}

		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				ID:      c.ID,
				Ordinal: c.Ordinal,
				Page:    c.Page,
				Text:    c.Text,
				Score:   c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 50)
		if limit <= 0 || limit > 500 {
			limit = 50
		}

		docs, err := deps.Store.ListDocuments(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}

		out := make([]DocumentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecords(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Results.List()
		if err != nil {
			return nil, fmt.Errorf("failed to read records: %w", err)
		}
		if records == nil {
			records = []*pipeline.DocumentRecord{}
		}

		b, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal records: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
