// Package mcpserver exposes the changeguard tools over the Model Context
// Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/tools"
	"github.com/highbeam/changeguard/internal/verdict"
)

// New creates an MCP server with every tool of suite registered.
func New(suite *tools.Suite, version string, logger *zap.Logger) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "changeguard",
		Version: version,
	}, nil)

	// Session lifecycle
	add(srv, logger, tools.NameSessionStart, suite.SessionStart)
	add(srv, logger, tools.NameSessionEnd, suite.SessionEnd)
	add(srv, logger, tools.NameRecordFileChange, suite.RecordFileChange)
	add(srv, logger, tools.NameSessionEntropy, suite.SessionEntropy)

	// Analyzers
	add(srv, logger, tools.NameDriftCheck, suite.DriftCheck)
	add(srv, logger, tools.NameDriftClearReview, suite.DriftClearReview)
	add(srv, logger, tools.NameHallucinationCheck, suite.HallucinationCheck)
	add(srv, logger, tools.NamePromptShield, suite.PromptShield)
	add(srv, logger, tools.NameBriefCheck, suite.BriefCheck)

	// Learning
	add(srv, logger, tools.NameRecordFinding, suite.RecordFinding)
	add(srv, logger, tools.NameDeveloperProfile, suite.DeveloperProfile)

	return srv
}

// add registers fn under name. Every verdict, including fail and block,
// is a successful tool call; IsError is reserved for results that could
// not be encoded.
func add[In any](srv *mcp.Server, logger *zap.Logger, name string, fn func(context.Context, In) *verdict.Result) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        name,
		Description: tools.Describe(name),
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		res := fn(ctx, in)
		out, err := toolJSON(res)
		if err != nil {
			logger.Error("encode tool result", zap.String("tool", name), zap.Error(err))
			return toolError("Failed to encode %s result: %v", name, err), nil, nil
		}
		return out, nil, nil
	})
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
