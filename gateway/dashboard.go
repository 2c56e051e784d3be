package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// Result is an upstream answer passed through to the caller.
type Result struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// UpdateDashboardRequest saves a full dashboard document into a folder.
// Without Overwrite the upstream rejects the save when Dashboard carries a
// stale version.
type UpdateDashboardRequest struct {
	FolderUID string          `json:"folderUid" validate:"required"`
	Dashboard json.RawMessage `json:"dashboard" validate:"required"`
	Overwrite bool            `json:"overwrite"`
	Message   string          `json:"message,omitempty"`
}

// CreateDashboardRequest creates a dashboard. Missing dashboard fields get
// defaults; FolderUID wins over FolderID, and with neither the dashboard
// lands in the General folder.
type CreateDashboardRequest struct {
	Dashboard map[string]any `json:"dashboard" validate:"required"`
	FolderUID string         `json:"folderUid,omitempty"`
	FolderID  *int64         `json:"folderId,omitempty"`
	Overwrite bool           `json:"overwrite"`
	Message   string         `json:"message,omitempty"`
}

// NamedDashboardRequest creates an empty dashboard whose title is made
// unique within the folder.
type NamedDashboardRequest struct {
	Title     string            `json:"title"`
	FolderUID string            `json:"folderUid,omitempty"`
	Panels    []json.RawMessage `json:"panels,omitempty"`
}

// CreatePanelRequest appends an empty panel to a dashboard.
type CreatePanelRequest struct {
	DashboardUID string `json:"dashboardUid" validate:"required"`
	FolderUID    string `json:"folderUid" validate:"required"`
	PanelTitle   string `json:"panelTitle,omitempty"`
}

// PanelQueryUpdate replaces the query of a panel's first target.
type PanelQueryUpdate struct {
	FolderUID    string  `json:"folderUid" validate:"required"`
	DashboardUID string  `json:"dashboardUid" validate:"required"`
	PanelID      int64   `json:"panelId" validate:"required"`
	Query        string  `json:"newQuery" validate:"required"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
}

const defaultDashboardTitle = "New Dashboard"

// exchange performs an authorized call and passes the answer through.
func (g *Gateway) exchange(ctx context.Context, sessionID string, r request) (*Result, error) {
	b, err := g.credential(ctx, r.op, sessionID)
	if err != nil {
		return nil, err
	}
	r.credential = b.Credential
	var body json.RawMessage
	resp, err := g.client.call(ctx, r, &body)
	if err != nil {
		g.logFailure(err)
		return nil, err
	}
	return &Result{Status: resp.status, Body: body}, nil
}

// folderID resolves a folder uid to the numeric id the search API wants.
func (g *Gateway) folderID(ctx context.Context, sessionID, op, folderUID string) (int64, error) {
	var folder struct {
		ID int64 `json:"id"`
	}
	err := g.forward(ctx, sessionID, request{
		op:     op,
		method: http.MethodGet,
		path:   "/api/folders/" + url.PathEscape(folderUID),
	}, &folder)
	return folder.ID, err
}

// ListDashboards returns the dashboards stored in folderUID.
func (g *Gateway) ListDashboards(ctx context.Context, sessionID, folderUID string) (json.RawMessage, error) {
	const op = "list_dashboards"
	if _, err := g.credential(ctx, op, sessionID); err != nil {
		return nil, err
	}
	if folderUID == "" {
		return nil, newError(KindValidation, op, "folderUid is required")
	}
	id, err := g.folderID(ctx, sessionID, op, folderUID)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = g.forward(ctx, sessionID, request{
		op:     op,
		method: http.MethodGet,
		path:   "/api/search",
		query:  url.Values{"folderIds": {strconv.FormatInt(id, 10)}, "type": {"dash-db"}},
	}, &out)
	return out, err
}

// GetDashboard returns the dashboard document stored under uid.
func (g *Gateway) GetDashboard(ctx context.Context, sessionID, uid string) (json.RawMessage, error) {
	const op = "get_dashboard"
	if _, err := g.credential(ctx, op, sessionID); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, newError(KindValidation, op, "dashboard uid is required")
	}
	var out json.RawMessage
	err := g.forward(ctx, sessionID, request{
		op:     op,
		method: http.MethodGet,
		path:   "/api/dashboards/uid/" + url.PathEscape(uid),
	}, &out)
	return out, err
}

// UpdateDashboard saves req.Dashboard into req.FolderUID.
func (g *Gateway) UpdateDashboard(ctx context.Context, sessionID string, req UpdateDashboardRequest) (*Result, error) {
	const op = "update_dashboard"
	if _, err := g.credential(ctx, op, sessionID); err != nil {
		return nil, err
	}
	if err := checkRequest(op, req); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"dashboard": req.Dashboard,
		"folderUid": req.FolderUID,
		"overwrite": req.Overwrite,
	}
	if req.Message != "" {
		payload["message"] = req.Message
	}
	return g.saveDashboard(ctx, sessionID, op, payload)
}

// CreateDashboard creates the dashboard described by req.
func (g *Gateway) CreateDashboard(ctx context.Context, sessionID string, req CreateDashboardRequest) (*Result, error) {
	const op = "create_dashboard"
	if _, err := g.credential(ctx, op, sessionID); err != nil {
		return nil, err
	}
	if err := checkRequest(op, req); err != nil {
		return nil, err
	}

	dashboard := map[string]any{
		"schemaVersion": 39,
		"timezone":      "browser",
		"title":         defaultDashboardTitle,
		"panels":        []any{},
	}
	for k, v := range req.Dashboard {
		dashboard[k] = v
	}

	payload := map[string]any{
		"dashboard": dashboard,
		"overwrite": req.Overwrite,
	}
	switch {
	case req.FolderUID != "":
		payload["folderUid"] = req.FolderUID
	case req.FolderID != nil:
		payload["folderId"] = *req.FolderID
	default:
		payload["folderId"] = 0
	}
	if req.Message != "" {
		payload["message"] = req.Message
	}
	return g.saveDashboard(ctx, sessionID, op, payload)
}

// CreateNamedDashboard creates an empty dashboard titled req.Title. When the
// folder already holds a dashboard with that title, a short random suffix
// is appended.
func (g *Gateway) CreateNamedDashboard(ctx context.Context, sessionID string, req NamedDashboardRequest) (*Result, error) {
	const op = "create_named_dashboard"
	if _, err := g.credential(ctx, op, sessionID); err != nil {
		return nil, err
	}
	title := firstNonEmpty(req.Title, defaultDashboardTitle)

	query := url.Values{"query": {title}, "type": {"dash-db"}}
	if req.FolderUID != "" {
		id, err := g.folderID(ctx, sessionID, op, req.FolderUID)
		if err != nil {
			return nil, err
		}
		query.Set("folderIds", strconv.FormatInt(id, 10))
	}

	var hits []struct {
		Title string `json:"title"`
	}
	if err := g.forward(ctx, sessionID, request{op: op, method: http.MethodGet, path: "/api/search", query: query}, &hits); err != nil {
		return nil, err
	}
	for _, h := range hits {
		if h.Title == title {
			title = fmt.Sprintf("%s - %s", title, uuid.NewString()[:8])
			g.logger.Info("adjusted dashboard title", "title", title)
			break
		}
	}

	panels := req.Panels
	if panels == nil {
		panels = []json.RawMessage{}
	}
	payload := map[string]any{
		"dashboard": map[string]any{
			"id":            nil,
			"uid":           nil,
			"title":         title,
			"schemaVersion": 36,
			"version":       0,
			"panels":        panels,
		},
		"overwrite": false,
	}
	if req.FolderUID != "" {
		payload["folderUid"] = req.FolderUID
	}
	return g.saveDashboard(ctx, sessionID, op, payload)
}

// DeleteDashboard removes the dashboard stored under uid.
func (g *Gateway) DeleteDashboard(ctx context.Context, sessionID, uid string) (*Result, error) {
	const op = "delete_dashboard"
	if _, err := g.credential(ctx, op, sessionID); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, newError(KindValidation, op, "missing dashboard uid")
	}
	return g.exchange(ctx, sessionID, request{
		op:     op,
		method: http.MethodDelete,
		path:   "/api/dashboards/uid/" + url.PathEscape(uid),
	})
}

// CreatePanel appends an empty graph panel below the existing ones, with
// an id one above the highest panel id in the dashboard.
func (g *Gateway) CreatePanel(ctx context.Context, sessionID string, req CreatePanelRequest) (*Result, error) {
	const op = "create_panel"
	if _, err := g.credential(ctx, op, sessionID); err != nil {
		return nil, err
	}
	if err := checkRequest(op, req); err != nil {
		return nil, err
	}

	dashboard, err := g.loadDashboard(ctx, sessionID, op, req.DashboardUID)
	if err != nil {
		return nil, err
	}
	panels := panelsOf(dashboard)

	var maxID int64
	for _, p := range panels {
		if id := panelID(p); id > maxID {
			maxID = id
		}
	}
	panels = append(panels, map[string]any{
		"id":      maxID + 1,
		"type":    "graph",
		"title":   firstNonEmpty(req.PanelTitle, "New Panel"),
		"gridPos": map[string]any{"h": 8, "w": 12, "x": 0, "y": len(panels) * 8},
		"targets": []any{},
	})
	dashboard["panels"] = panels

	return g.saveDashboard(ctx, sessionID, op, map[string]any{
		"dashboard": dashboard,
		"folderUid": req.FolderUID,
		"overwrite": false,
	})
}

// UpdatePanelQuery sets the query of the first target of panel
// req.PanelID, creating that target when the panel has none.
func (g *Gateway) UpdatePanelQuery(ctx context.Context, sessionID string, req PanelQueryUpdate) (*Result, error) {
	const op = "update_panel_query"
	if _, err := g.credential(ctx, op, sessionID); err != nil {
		return nil, err
	}
	if err := checkRequest(op, req); err != nil {
		return nil, err
	}

	dashboard, err := g.loadDashboard(ctx, sessionID, op, req.DashboardUID)
	if err != nil {
		return nil, err
	}
	var panel map[string]any
	for _, p := range panelsOf(dashboard) {
		if m, ok := p.(map[string]any); ok && panelID(m) == req.PanelID {
			panel = m
			break
		}
	}
	if panel == nil {
		return nil, newError(KindNotFound, op, "panel %d not found", req.PanelID)
	}

	targets, _ := panel["targets"].([]any)
	if len(targets) == 0 {
		targets = []any{map[string]any{"refId": "A", "datasource": panel["datasource"]}}
	}
	first, ok := targets[0].(map[string]any)
	if !ok {
		return nil, newError(KindUpstreamProtocol, op, "panel %d has a malformed target", req.PanelID)
	}
	first["query"] = req.Query
	panel["targets"] = targets
	if req.Title != nil {
		panel["title"] = *req.Title
	}
	if req.Description != nil {
		panel["description"] = *req.Description
	}

	return g.saveDashboard(ctx, sessionID, op, map[string]any{
		"dashboard": dashboard,
		"folderUid": req.FolderUID,
		"overwrite": false,
	})
}

func (g *Gateway) loadDashboard(ctx context.Context, sessionID, op, uid string) (map[string]any, error) {
	var envelope struct {
		Dashboard map[string]any `json:"dashboard"`
	}
	if err := g.forward(ctx, sessionID, request{
		op:     op,
		method: http.MethodGet,
		path:   "/api/dashboards/uid/" + url.PathEscape(uid),
	}, &envelope); err != nil {
		return nil, err
	}
	if envelope.Dashboard == nil {
		return nil, newError(KindUpstreamProtocol, op, "dashboard %s has no document", uid)
	}
	return envelope.Dashboard, nil
}

func (g *Gateway) saveDashboard(ctx context.Context, sessionID, op string, payload map[string]any) (*Result, error) {
	return g.exchange(ctx, sessionID, request{
		op:     op,
		method: http.MethodPost,
		path:   "/api/dashboards/db",
		body:   payload,
	})
}

func panelsOf(dashboard map[string]any) []any {
	panels, _ := dashboard["panels"].([]any)
	return panels
}

func panelID(p any) int64 {
	m, ok := p.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m["id"].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
