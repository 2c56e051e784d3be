// Package gateway forwards authorized calls to the upstream dashboard and
// analytics service on behalf of an inbound session.
//
// Every operation that needs the upstream first resolves the session's
// credential binding; a session without one fails with KindUnauthorized
// before any network call. Upstream failures are mapped onto the Kind
// taxonomy and are never retried.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultDatasourceType is the datasource type tag scanned for when
// discovering the time-series datasource.
const DefaultDatasourceType = "influxdb"

// Config configures a Gateway.
type Config struct {
	Client   *Client
	Sessions SessionStore
	Logger   *slog.Logger
	// DatasourceType selects the upstream datasource used for bucket
	// discovery and query execution.
	DatasourceType string
	// MaxConcurrentQueries bounds the tag-value fan-out. 0 means unbounded.
	MaxConcurrentQueries int
}

// Gateway is safe for concurrent use. The session store is its only shared
// mutable state.
type Gateway struct {
	client         *Client
	sessions       SessionStore
	logger         *slog.Logger
	datasourceType string
	maxConcurrent  int
}

// New builds a Gateway from cfg.
func New(cfg Config) (*Gateway, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("gateway: client is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("gateway: session store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dsType := cfg.DatasourceType
	if dsType == "" {
		dsType = DefaultDatasourceType
	}
	return &Gateway{
		client:         cfg.Client,
		sessions:       cfg.Sessions,
		logger:         logger.With("component", "gateway"),
		datasourceType: dsType,
		maxConcurrent:  cfg.MaxConcurrentQueries,
	}, nil
}

// SessionInfo describes the binding behind a session.
type SessionInfo struct {
	LoggedIn bool   `json:"loggedIn"`
	Username string `json:"username"`
}

// credential resolves the upstream credential bound to sessionID.
func (g *Gateway) credential(ctx context.Context, op, sessionID string) (*Binding, error) {
	if sessionID == "" {
		return nil, newError(KindUnauthorized, op, "not authenticated")
	}
	b, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		g.logger.Error("session lookup failed", "op", op, "error", err)
		return nil, &Error{Kind: KindSessionStore, Op: op, Message: "session lookup failed", Err: err}
	}
	if b == nil || b.Credential == "" {
		return nil, newError(KindUnauthorized, op, "not authenticated")
	}
	return b, nil
}

// forward performs one authorized upstream call and decodes the answer
// into out.
func (g *Gateway) forward(ctx context.Context, sessionID string, r request, out any) error {
	b, err := g.credential(ctx, r.op, sessionID)
	if err != nil {
		return err
	}
	r.credential = b.Credential
	if _, err := g.client.call(ctx, r, out); err != nil {
		g.logFailure(err)
		return err
	}
	return nil
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkRequest runs the validate tags of req and reports every failing
// field as one KindValidation error.
func checkRequest(op string, req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Kind: KindValidation, Op: op, Message: "invalid request", Err: err}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return newError(KindValidation, op, "missing or invalid fields: %s", strings.Join(fields, ", "))
}

func (g *Gateway) logFailure(err error) {
	var gerr *Error
	if errors.As(err, &gerr) {
		g.logger.Warn("upstream call failed",
			"op", gerr.Op, "kind", string(gerr.Kind), "status", gerr.Status, "error", gerr.Error())
		return
	}
	g.logger.Warn("upstream call failed", "error", err)
}

// Login authenticates against the upstream and binds the returned credential
// to sessionID.
func (g *Gateway) Login(ctx context.Context, sessionID, username, password string) (*SessionInfo, error) {
	if sessionID == "" || username == "" || password == "" {
		return nil, newError(KindValidation, "login", "username and password are required")
	}
	g.logger.Info("login attempt", "username", username)

	cred, err := g.client.login(ctx, username, password)
	if err != nil {
		g.logFailure(err)
		return nil, err
	}
	if err := g.sessions.Set(ctx, sessionID, Binding{
		Credential: cred,
		Username:   username,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		g.logger.Error("session store failed", "op", "login", "error", err)
		return nil, &Error{Kind: KindSessionStore, Op: "login", Message: "store session", Err: err}
	}
	return &SessionInfo{LoggedIn: true, Username: username}, nil
}

// Logout destroys the binding of sessionID.
func (g *Gateway) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := g.sessions.Delete(ctx, sessionID); err != nil {
		g.logger.Error("session teardown failed", "error", err)
		return &Error{Kind: KindSessionTeardownFailed, Op: "logout", Message: "logout failed", Err: err}
	}
	return nil
}

// CheckSession reports the user bound to sessionID.
func (g *Gateway) CheckSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	b, err := g.credential(ctx, "check_session", sessionID)
	if err != nil {
		return nil, err
	}
	if b.Username == "" {
		return nil, newError(KindUnauthorized, "check_session", "not authenticated")
	}
	return &SessionInfo{LoggedIn: true, Username: b.Username}, nil
}

// Ping calls the upstream health endpoint. It needs no session.
func (g *Gateway) Ping(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if _, err := g.client.call(ctx, request{op: "ping", method: http.MethodGet, path: "/api/health"}, &out); err != nil {
		g.logFailure(err)
		return nil, err
	}
	return out, nil
}

// UserProfile returns the upstream profile of the session's user.
func (g *Gateway) UserProfile(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := g.forward(ctx, sessionID, request{op: "get_user", method: http.MethodGet, path: "/api/user"}, &out)
	return out, err
}

// ListFolders returns the folders visible to the session's user.
func (g *Gateway) ListFolders(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := g.forward(ctx, sessionID, request{op: "list_folders", method: http.MethodGet, path: "/api/folders"}, &out)
	return out, err
}
