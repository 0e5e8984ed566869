package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/asta/histd/internal/history"
)

const recentPreviewRunes = 200

// NewMCPServer creates an MCP server with the history tools and resources registered.
func NewMCPServer(svc HistoryService, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"histd",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("histd stores generated travel itineraries per user and lets you list, search, page, and delete them."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("save_itinerary",
			mcp.WithDescription("Save a generated itinerary. Re-saving an existing id replaces it."),
			mcp.WithString("title", mcp.Description("Itinerary title"), mcp.Required()),
			mcp.WithString("content", mcp.Description("The generated itinerary text"), mcp.Required()),
			mcp.WithNumber("user_id", mcp.Description("Owner user id")),
			mcp.WithString("username", mcp.Description("Owner display name")),
			mcp.WithString("id", mcp.Description("Existing id to overwrite; a new one is assigned when omitted")),
			mcp.WithString("created_at", mcp.Description("Creation time as YYYY-MM-DD HH:MM:SS; now when omitted")),
		),
		mcpSaveItinerary(svc),
	)

	s.AddTool(
		mcp.NewTool("get_itinerary",
			mcp.WithDescription("Fetch one saved itinerary by id."),
			mcp.WithString("id", mcp.Description("History id, e.g. HIST_1735689600000_1"), mcp.Required()),
		),
		mcpGetItinerary(svc),
	)

	s.AddTool(
		mcp.NewTool("list_user_itineraries",
			mcp.WithDescription("List a user's saved itineraries, most recent first."),
			mcp.WithNumber("user_id", mcp.Description("User id"), mcp.Required()),
		),
		mcpListUserItineraries(svc),
	)

	s.AddTool(
		mcp.NewTool("search_itineraries",
			mcp.WithDescription("Find itineraries whose title contains the given text, ignoring case."),
			mcp.WithString("title", mcp.Description("Text to look for in titles"), mcp.Required()),
		),
		mcpSearchItineraries(svc),
	)

	s.AddTool(
		mcp.NewTool("page_itineraries",
			mcp.WithDescription("Return one page of itineraries matching optional filters, newest first."),
			mcp.WithNumber("page", mcp.Description("1-based page index (default 1)")),
			mcp.WithNumber("size", mcp.Description("Page size (default 10)")),
			mcp.WithNumber("user_id", mcp.Description("Restrict to one user")),
			mcp.WithString("username", mcp.Description("Username substring")),
			mcp.WithString("title", mcp.Description("Title substring")),
			mcp.WithString("start_time", mcp.Description("Earliest createdAt, YYYY-MM-DD HH:MM:SS")),
			mcp.WithString("end_time", mcp.Description("Latest createdAt, YYYY-MM-DD HH:MM:SS")),
		),
		mcpPageItineraries(svc),
	)

	s.AddTool(
		mcp.NewTool("delete_itinerary",
			mcp.WithDescription("Delete one itinerary by id."),
			mcp.WithString("id", mcp.Description("History id"), mcp.Required()),
		),
		mcpDeleteItinerary(svc),
	)

	s.AddTool(
		mcp.NewTool("delete_user_itineraries",
			mcp.WithDescription("Delete every itinerary of a user."),
			mcp.WithNumber("user_id", mcp.Description("User id"), mcp.Required()),
		),
		mcpDeleteUserItineraries(svc),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"history://recent",
			"Recent Itineraries",
			mcp.WithResourceDescription("First page of saved itineraries, newest first, with content truncated"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(svc),
	)

	return s
}

func mcpSaveItinerary(svc HistoryService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		rec := history.Record{
			ID:        req.GetString("id", ""),
			Title:     title,
			Content:   content,
			CreatedAt: req.GetString("created_at", ""),
			UserID:    optionalInt(req, "user_id"),
			Username:  req.GetString("username", ""),
		}

		saved, err := svc.Save(ctx, rec)
		if errors.Is(err, history.ErrInvalidRecord) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		return mcpJSON(saved)
	}
}

func mcpGetItinerary(svc HistoryService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		rec := svc.GetByID(ctx, id)
		if rec == nil {
			return mcpError(fmt.Sprintf("itinerary %s not found", id)), nil
		}
		return mcpJSON(rec)
	}
}

func mcpListUserItineraries(svc HistoryService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireInt("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		return mcpJSON(svc.GetByUserID(ctx, userID))
	}
}

func mcpSearchItineraries(svc HistoryService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		return mcpJSON(svc.GetByTitle(ctx, title))
	}
}

func mcpPageItineraries(svc HistoryService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := history.Query{
			PageIndex: req.GetInt("page", 1),
			PageSize:  req.GetInt("size", 0),
			UserID:    optionalInt(req, "user_id"),
			Username:  req.GetString("username", ""),
			Title:     req.GetString("title", ""),
			StartTime: req.GetString("start_time", ""),
			EndTime:   req.GetString("end_time", ""),
		}
		return mcpJSON(svc.GetPage(ctx, q))
	}
}

func mcpDeleteItinerary(svc HistoryService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		if !svc.DeleteByID(ctx, id) {
			return mcpError(fmt.Sprintf("itinerary %s not found", id)), nil
		}
		return mcpText(fmt.Sprintf("Deleted itinerary %s", id)), nil
	}
}

func mcpDeleteUserItineraries(svc HistoryService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireInt("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		n := svc.DeleteByUserID(ctx, userID)
		return mcpText(fmt.Sprintf("Deleted %d itineraries of user %d", n, userID)), nil
	}
}

func mcpResourceRecent(svc HistoryService) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		page := svc.GetPage(ctx, history.Query{PageIndex: 1})

		for i := range page.Records {
			page.Records[i].Content = truncateRunes(page.Records[i].Content, recentPreviewRunes)
		}

		b, err := json.Marshal(page)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recent itineraries: %w", err)
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

// optionalInt returns nil when key was not passed or was passed as null.
func optionalInt(req mcp.CallToolRequest, key string) *int {
	if v, ok := req.GetArguments()[key]; !ok || v == nil {
		return nil
	}
	v := req.GetInt(key, 0)
	return &v
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
