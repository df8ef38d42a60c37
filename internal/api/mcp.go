package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/afadel/studygate/internal/gateway"
	"github.com/afadel/studygate/internal/keypool"
)

// mcpUserID attributes MCP-originated calls in the usage ledger.
const mcpUserID = "mcp"

// KeyReporter exposes credential health to the MCP resource.
type KeyReporter interface {
	Health() ([]keypool.KeyHealth, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Gateway Generator
	Keys    KeyReporter
}

// NewMCPServer creates an MCP server exposing the generation operations as
// tools and credential health as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"studygate",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("studygate — generation gateway for study material: summaries, exam questions, and grounded Q&A."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("summarize_document",
			mcp.WithDescription("Summarize study material into bounded markdown."),
			mcp.WithString("text", mcp.Description("The extracted document text"), mcp.Required()),
			mcp.WithNumber("max_words", mcp.Description("Word budget for the summary (default 500)")),
			mcp.WithString("notes", mcp.Description("Optional instructor guidance")),
		),
		mcpSummarize(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_questions",
			mcp.WithDescription("Generate an exam question set from study material as structured JSON."),
			mcp.WithString("text", mcp.Description("The extracted document text"), mcp.Required()),
			mcp.WithNumber("multiple_choice", mcp.Description("Number of multiple-choice questions (default 0)")),
			mcp.WithNumber("true_false", mcp.Description("Number of true/false questions (default 0)")),
			mcp.WithNumber("short_answer", mcp.Description("Number of short-answer questions (default 0)")),
			mcp.WithNumber("score", mcp.Description("Points per question (default 1)")),
			mcp.WithString("notes", mcp.Description("Optional instructor guidance")),
		),
		mcpGenerateQuestions(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_document",
			mcp.WithDescription("Answer a question using only the provided document text."),
			mcp.WithString("text", mcp.Description("The extracted document text"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Optional instructor guidance")),
		),
		mcpAskDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"studygate://keys",
			"Credential Health",
			mcp.WithResourceDescription("Provider key pool health as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceKeys(deps),
	)

	return s
}

func mcpSummarize(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		maxWords := req.GetInt("max_words", 500)
		notes := req.GetString("notes", "")

		summary, err := deps.Gateway.Summarize(ctx, gateway.CallInfo{UserID: mcpUserID}, text, maxWords, notes)
		if err != nil {
			return mcpError(fmt.Sprintf("summarization failed: %v", err)), nil
		}
		return mcpText(summary), nil
	}
}

func mcpGenerateQuestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		score := float64(req.GetInt("score", 1))
		matrix := gateway.MatrixConfig{
			MultipleChoice: gateway.KindSpec{Count: req.GetInt("multiple_choice", 0), Score: score},
			TrueFalse:      gateway.KindSpec{Count: req.GetInt("true_false", 0), Score: score},
			ShortAnswer:    gateway.KindSpec{Count: req.GetInt("short_answer", 0), Score: score},
		}
		notes := req.GetString("notes", "")

		questions, err := deps.Gateway.GenerateQuestions(ctx, gateway.CallInfo{UserID: mcpUserID}, text, matrix, notes)
		if err != nil {
			return mcpError(fmt.Sprintf("question generation failed: %v", err)), nil
		}
		b, err := json.Marshal(questions)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal questions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		notes := req.GetString("notes", "")

		answer, err := deps.Gateway.AskDocument(ctx, gateway.CallInfo{UserID: mcpUserID}, text, question, notes)
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		return mcpText(answer), nil
	}
}

func mcpResourceKeys(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		health, err := deps.Keys.Health()
		if err != nil {
			return nil, fmt.Errorf("reading key health: %w", err)
		}
		b, err := json.Marshal(health)
		if err != nil {
			return nil, fmt.Errorf("marshaling key health: %w", err)
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
