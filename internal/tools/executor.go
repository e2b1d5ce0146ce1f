// Package tools dispatches model-requested tool calls over a fixed table.
// The tool bodies are placeholders; the dispatch and error contract is the
// stable part.
package tools

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	ToolSearchDocument    = "search_document"
	ToolWebSearch         = "web_search"
	ToolGenerateImage     = "generate_image"
	ToolSummarizeDocument = "summarize_document"
)

// UnknownToolError is a dispatch miss. It fails the tool call only, never an
// in-flight chat stream.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ToolResult struct {
	ToolName string `json:"tool_name"`
	Result   string `json:"result"`
	Error    string `json:"error,omitempty"`
}

type handlerFunc func(ctx context.Context, args map[string]any) (string, error)

type Executor struct {
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

func NewExecutor(logger *slog.Logger) *Executor {
	e := &Executor{logger: logger}
	e.handlers = map[string]handlerFunc{
		ToolSearchDocument:    e.searchDocument,
		ToolWebSearch:         e.webSearch,
		ToolGenerateImage:     e.generateImage,
		ToolSummarizeDocument: e.summarizeDocument,
	}
	return e
}

// Tools returns the names of all dispatchable tools.
func (e *Executor) Tools() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	return names
}

func (e *Executor) Execute(ctx context.Context, call ToolCall) (ToolResult, error) {
	handler, ok := e.handlers[call.Name]
	if !ok {
		return ToolResult{}, &UnknownToolError{Name: call.Name}
	}

	e.logger.Debug("executing tool", "tool", call.Name)

	result, err := handler(ctx, call.Arguments)
	if err != nil {
		return ToolResult{ToolName: call.Name, Error: err.Error()}, nil
	}
	return ToolResult{ToolName: call.Name, Result: result}, nil
}

func (e *Executor) searchDocument(_ context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	return fmt.Sprintf("Document search is not yet connected; no results for %q.", query), nil
}

func (e *Executor) webSearch(_ context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	return fmt.Sprintf("Web search is not yet connected; no results for %q.", query), nil
}

func (e *Executor) generateImage(_ context.Context, args map[string]any) (string, error) {
	prompt, _ := args["prompt"].(string)
	return fmt.Sprintf("Image generation is not yet connected; prompt was %q.", prompt), nil
}

func (e *Executor) summarizeDocument(_ context.Context, args map[string]any) (string, error) {
	id, _ := args["document_id"].(string)
	return fmt.Sprintf("Document summarization is not yet connected; document id %q.", id), nil
}
