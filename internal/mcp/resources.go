package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/roster/internal/store"
	"github.com/hurttlocker/roster/internal/workflow"
)

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"roster://stats",
		"Roster Statistics",
		mcp.WithResourceDescription("Counts of clients, contacts and records, including unattached and unanalyzed records."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}
		return jsonContents(req.Params.URI, stats)
	})
}

func registerPendingResource(s *server.MCPServer, engine *workflow.Engine) {
	resource := mcp.NewResource(
		"roster://pending",
		"Pending Confirmations",
		mcp.WithResourceDescription("Confirmations waiting for an accept or reject, keyed for roster_confirm."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type pendingItem struct {
			Key    string         `json:"key"`
			State  string         `json:"state"`
			Prompt string         `json:"prompt"`
			Detail workflow.State `json:"detail"`
		}
		pending := engine.ListPending()
		items := make([]pendingItem, 0, len(pending))
		for key, st := range pending {
			items = append(items, pendingItem{Key: key, State: st.Name(), Prompt: workflow.Prompt(st), Detail: st})
		}
		return jsonContents(req.Params.URI, map[string]interface{}{
			"pending": items,
			"count":   len(items),
		})
	})
}

func registerSchedulesResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"roster://schedules",
		"Follow-up Schedules",
		mcp.WithResourceDescription("Follow-up appointments extracted from analyzed notes."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		schedules, err := st.ListSchedules(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("listing schedules: %w", err)
		}

		type scheduleItem struct {
			RecordID int64  `json:"record_id"`
			ClientID *int64 `json:"client_id,omitempty"`
			Title    string `json:"title"`
			Date     string `json:"date,omitempty"`
			Time     string `json:"time,omitempty"`
			Location string `json:"location,omitempty"`
		}
		items := make([]scheduleItem, 0, len(schedules))
		for _, sc := range schedules {
			items = append(items, scheduleItem{
				RecordID: sc.RecordID,
				ClientID: sc.ClientID,
				Title:    sc.Title,
				Date:     sc.Date,
				Time:     sc.Time,
				Location: sc.Location,
			})
		}
		return jsonContents(req.Params.URI, items)
	})
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
