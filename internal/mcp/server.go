// Package mcp provides a Model Context Protocol server for roster.
//
// It exposes client matching, record submission and the two confirmation
// phases as MCP tools, so an assistant can drive the reconciliation
// workflow and relay each confirmation question to the user.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/hurttlocker/roster/internal/contacts"
	"github.com/hurttlocker/roster/internal/logging"
	"github.com/hurttlocker/roster/internal/registry"
	"github.com/hurttlocker/roster/internal/store"
	"github.com/hurttlocker/roster/internal/workflow"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store      store.Store
	Registry   *registry.Registry
	Reconciler *contacts.Reconciler
	Engine     *workflow.Engine
	Version    string // version string for MCP server info
	Logger     *zerolog.Logger
}

// NewServer creates a configured MCP server with all roster tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	log := logging.OrDefault(cfg.Logger)

	s := server.NewMCPServer(
		"Roster",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
		server.WithRecovery(),
	)

	registerMatchTool(s, cfg.Registry)
	registerFindOrCreateTool(s, cfg.Registry)
	registerClientsTool(s, cfg.Registry)
	registerNoteSubmitTool(s, cfg.Engine)
	registerConfirmTool(s, cfg.Engine)
	registerNoteAnalyzeTool(s, cfg.Engine)
	registerContactsSyncTool(s, cfg.Reconciler, cfg.Registry)
	registerContactsTool(s, cfg.Store, cfg.Registry)

	registerStatsResource(s, cfg.Store)
	registerPendingResource(s, cfg.Engine)
	registerSchedulesResource(s, cfg.Store)

	log.Debug().Str("version", ver).Msg("mcp server configured")
	return s
}

// --- Tools ---

func registerMatchTool(s *server.MCPServer, reg *registry.Registry) {
	tool := mcp.NewTool("roster_match",
		mcp.WithDescription("Find the existing client whose name best matches a typed name. Returns the candidate and its confidence, or null when nothing reaches the suggest floor."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Client name as typed, e.g. '삼성전자'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		best, err := reg.FindBestMatch(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("match error: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"match":         best,
			"suggest_floor": reg.SuggestFloor(),
		})
	})
}

func registerFindOrCreateTool(s *server.MCPServer, reg *registry.Registry) {
	tool := mcp.NewTool("roster_client_find_or_create",
		mcp.WithDescription("Return the client with exactly this normalized name, creating it if none exists. Never creates a duplicate."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Client name"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		c, created, err := reg.FindOrCreate(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("find_or_create error: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"client":  toClientView(c),
			"created": created,
		})
	})
}

func registerClientsTool(s *server.MCPServer, reg *registry.Registry) {
	tool := mcp.NewTool("roster_clients",
		mcp.WithDescription("List all registered clients."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		clients, err := reg.List(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list error: %v", err)), nil
		}
		views := make([]clientView, 0, len(clients))
		for _, c := range clients {
			views = append(views, toClientView(c))
		}
		return jsonResult(views)
	})
}

func registerNoteSubmitTool(s *server.MCPServer, engine *workflow.Engine) {
	tool := mcp.NewTool("roster_note_submit",
		mcp.WithDescription("Save a sales note. If the typed client name closely matches an existing client, nothing is saved yet: the result has state awaiting_presave_confirm, a prompt to show the user, and a key to pass to roster_confirm."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Note text"),
		),
		mcp.WithString("client_name",
			mcp.Description("Client name as typed by the user. Empty saves the note unattached."),
		),
		mcp.WithNumber("client_id",
			mcp.Description("Attach directly to this client, skipping the lookup"),
		),
		mcp.WithString("key",
			mcp.Description("Caller-chosen key for a pending confirmation (default: generated)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := req.RequireString("body")
		if err != nil || strings.TrimSpace(body) == "" {
			return mcp.NewToolResultError("body is required"), nil
		}
		d := workflow.Draft{
			Key:            req.GetString("key", ""),
			ClientNameText: req.GetString("client_name", ""),
			Body:           body,
		}
		if id, err := req.RequireFloat("client_id"); err == nil && id > 0 {
			cid := int64(id)
			d.ClientID = &cid
		}

		out, err := engine.Submit(ctx, d)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("submit error: %v", err)), nil
		}
		return jsonResult(out)
	})
}

func registerConfirmTool(s *server.MCPServer, engine *workflow.Engine) {
	tool := mcp.NewTool("roster_confirm",
		mcp.WithDescription("Answer a pending confirmation returned by roster_note_submit or roster_note_analyze."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Key of the pending confirmation"),
		),
		mcp.WithString("decision",
			mcp.Required(),
			mcp.Description("accept or reject"),
			mcp.Enum("accept", "reject"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError("key is required"), nil
		}
		raw, err := req.RequireString("decision")
		if err != nil {
			return mcp.NewToolResultError("decision is required"), nil
		}
		d, err := workflow.ParseDecision(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		out, err := engine.Confirm(ctx, key, d)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("confirm error: %v", err)), nil
		}
		return jsonResult(out)
	})
}

func registerNoteAnalyzeTool(s *server.MCPServer, engine *workflow.Engine) {
	tool := mcp.NewTool("roster_note_analyze",
		mcp.WithDescription("Run AI extraction on a saved note. For an unattached note that names a client, the result may be awaiting_postanalysis_confirm with a key for roster_confirm."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("record_id",
			mcp.Required(),
			mcp.Description("ID of the saved note"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireFloat("record_id")
		if err != nil || id <= 0 {
			return mcp.NewToolResultError("record_id is required"), nil
		}
		out, err := engine.Analyze(ctx, int64(id))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("analyze error: %v", err)), nil
		}
		return jsonResult(out)
	})
}

func registerContactsSyncTool(s *server.MCPServer, rec *contacts.Reconciler, reg *registry.Registry) {
	tool := mcp.NewTool("roster_contacts_sync",
		mcp.WithDescription("Merge contact people into a client without overwriting existing details. Partial failures are reported, not fatal."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("client_id",
			mcp.Required(),
			mcp.Description("Client to merge into"),
		),
		mcp.WithArray("contacts",
			mcp.Required(),
			mcp.Description("Contacts with name, role, phone and email"),
			mcp.Items(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name":  map[string]interface{}{"type": "string"},
					"role":  map[string]interface{}{"type": "string"},
					"phone": map[string]interface{}{"type": "string"},
					"email": map[string]interface{}{"type": "string"},
				},
			}),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireFloat("client_id")
		if err != nil || id <= 0 {
			return mcp.NewToolResultError("client_id is required"), nil
		}
		if _, err := reg.Get(ctx, int64(id)); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var incoming []contacts.ExternalContact
		raw, _ := json.Marshal(req.GetArguments()["contacts"])
		if err := json.Unmarshal(raw, &incoming); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid contacts: %v", err)), nil
		}

		report, err := rec.Sync(ctx, int64(id), incoming)
		result := map[string]interface{}{
			"added":   len(report.Added),
			"merged":  len(report.Merged),
			"matched": report.Matched,
			"skipped": report.Skipped,
		}
		if err != nil {
			result["error"] = err.Error()
		}
		return jsonResult(result)
	})
}

func registerContactsTool(s *server.MCPServer, st store.Store, reg *registry.Registry) {
	tool := mcp.NewTool("roster_contacts",
		mcp.WithDescription("List a client's contact people, primary contact first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("client_id",
			mcp.Required(),
			mcp.Description("Client ID"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireFloat("client_id")
		if err != nil || id <= 0 {
			return mcp.NewToolResultError("client_id is required"), nil
		}
		if _, err := reg.Get(ctx, int64(id)); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		list, err := st.ListContacts(ctx, int64(id))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("contacts error: %v", err)), nil
		}
		views := make([]contactView, 0, len(list))
		for _, c := range list {
			views = append(views, contactView{
				ID: c.ID, Name: c.Name, Role: c.Role, Phone: c.Phone, Email: c.Email, IsPrimary: c.IsPrimary,
			})
		}
		return jsonResult(views)
	})
}

// --- Helpers ---

type clientView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Industry string `json:"industry,omitempty"`
	Address  string `json:"address,omitempty"`
}

func toClientView(c *store.Client) clientView {
	return clientView{ID: c.ID, Name: c.Name, Industry: c.Industry, Address: c.Address}
}

type contactView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
