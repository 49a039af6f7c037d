package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fitreg/internal/profile"
	"github.com/kalambet/fitreg/internal/storage"
)

// NewMCPServer creates an MCP server exposing the registration dialogue as
// tools, so an assistant can onboard users on behalf of a chat transport.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"fitreg",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fitreg collects a fitness profile through a short conversation. Call start_registration once per user, then relay every user message through send_message and show the returned reply."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_registration",
			mcp.WithDescription("Find or create the user registered under an external id and return their profile."),
			mcp.WithString("external_id", mcp.Description("Transport-specific user id, e.g. a chat id. Empty creates an anonymous user.")),
		),
		mcpStartRegistration(deps),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Process one user message in the registration dialogue and return the reply to show."),
			mcp.WithString("user_id", mcp.Description("User id returned by start_registration"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The user's message"), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return the stored fitness profile of a user as JSON."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("edit_profile",
			mcp.WithDescription("Reopen a confirmed or completed profile for changes."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
		),
		mcpEditProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"fitreg://stats",
			"Registration Stats",
			mcp.WithResourceDescription("Number of users at each registration step"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpStartRegistration(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		externalID := req.GetString("external_id", "")

		p, created, err := deps.Service.Register(ctx, externalID)
		if err != nil {
			return mcpError(fmt.Sprintf("registration failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{"created": created, "profile": p})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSendMessage(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		res, err := deps.Service.HandleMessage(ctx, userID, text)
		if err != nil {
			return mcpError(describe(err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetProfile(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		p, err := deps.Profiles.GetUser(ctx, userID)
		if err != nil {
			return mcpError(describe(err)), nil
		}

		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpEditProfile(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		res, err := deps.Service.BeginEdit(ctx, userID)
		if err != nil {
			return mcpError(describe(err)), nil
		}
		return mcpText(res.Response), nil
	}
}

func mcpResourceStats(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		counts, err := deps.Users.CountUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count users: %w", err)
		}
		if counts == nil {
			counts = map[profile.Step]int{}
		}

		b, err := json.Marshal(counts)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
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

func describe(err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return "user not found"
	}
	return err.Error()
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
