package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/orchestd/internal/capability"
	"github.com/fyrsmithlabs/orchestd/internal/config"
	"github.com/fyrsmithlabs/orchestd/internal/logging"
)

// ErrServerUnknown indicates an invocation targeted a server the client
// holds no session for.
var ErrServerUnknown = errors.New("unknown tool server")

// MCPClient manages MCP stdio sessions to the configured tool services and
// implements both the Invoker and capability discovery boundaries.
type MCPClient struct {
	logger  *logging.Logger
	client  *mcp.Client
	limiter *rate.Limiter

	mu       sync.RWMutex
	sessions map[string]*mcp.ClientSession
	servers  []config.ToolServerConfig
}

// NewMCPClient creates a client for the configured tool servers. Sessions
// are established by Connect.
//
// invokeRate limits tool calls per second across all sessions; zero
// disables limiting.
func NewMCPClient(servers []config.ToolServerConfig, invokeRate float64, invokeBurst int, logger *logging.Logger) *MCPClient {
	if logger == nil {
		logger = logging.NewNop()
	}
	var limiter *rate.Limiter
	if invokeRate > 0 {
		if invokeBurst < 1 {
			invokeBurst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(invokeRate), invokeBurst)
	}
	return &MCPClient{
		logger: logger.Named("tool"),
		client: mcp.NewClient(&mcp.Implementation{
			Name:    "orchestd",
			Version: "1.0.0",
		}, nil),
		limiter:  limiter,
		sessions: make(map[string]*mcp.ClientSession),
		servers:  servers,
	}
}

// Connect launches each configured tool server and performs the MCP
// handshake. A server that fails to connect is logged and skipped; the
// remaining sessions stay usable.
func (c *MCPClient) Connect(ctx context.Context) error {
	var errs []error
	for _, srv := range c.servers {
		cmd := exec.CommandContext(ctx, srv.Command, srv.Args...)
		if len(srv.Env) > 0 {
			cmd.Env = append(cmd.Environ(), srv.Env...)
		}
		session, err := c.client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("connect %s: %w", srv.Name, err))
			c.logger.Warn(ctx, "tool server connection failed",
				zap.String("server_id", srv.Name), zap.Error(err))
			continue
		}
		c.mu.Lock()
		c.sessions[srv.Name] = session
		c.mu.Unlock()
		c.logger.Info(ctx, "tool server connected", zap.String("server_id", srv.Name))
	}
	return errors.Join(errs...)
}

// Close terminates all sessions.
func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(c.sessions, id)
	}
	return errors.Join(errs...)
}

// Sources returns one capability discovery source per connected session.
func (c *MCPClient) Sources() []capability.Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]capability.Source, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, &mcpSource{client: c, serverID: id})
	}
	return out
}

// Invoke implements the Invoker interface over an MCP session.
func (c *MCPClient) Invoke(ctx context.Context, serverID, action string, args map[string]any, timeout time.Duration) (Result, error) {
	session, ok := c.session(serverID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrServerUnknown, serverID)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      action,
		Arguments: args,
	})
	elapsed := time.Since(start)
	if err != nil {
		return Result{}, fmt.Errorf("call %s/%s: %w", serverID, action, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		return Result{Success: false, ErrorDetail: text, Duration: elapsed}, nil
	}
	return Result{Success: true, Output: text, Duration: elapsed}, nil
}

func (c *MCPClient) session(serverID string) (*mcp.ClientSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.sessions[serverID]
	return session, ok
}

// contentText flattens MCP content blocks into a single detail string.
func contentText(content []mcp.Content) string {
	var parts []string
	for _, block := range content {
		if tc, ok := block.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// mcpSource adapts one MCP session to the capability discovery boundary.
type mcpSource struct {
	client   *MCPClient
	serverID string
}

func (s *mcpSource) ServerID() string { return s.serverID }

func (s *mcpSource) ListActions(ctx context.Context) ([]capability.Capability, error) {
	session, ok := s.client.session(s.serverID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerUnknown, s.serverID)
	}

	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list tools %s: %w", s.serverID, err)
	}

	caps := make([]capability.Capability, 0, len(res.Tools))
	for _, t := range res.Tools {
		caps = append(caps, capability.Capability{
			ServerID:    s.serverID,
			Action:      t.Name,
			Description: t.Description,
			ParamSchema: schemaToMap(t.InputSchema),
		})
	}
	return caps, nil
}

// schemaToMap converts the SDK's schema type into the registry's neutral
// map form via a JSON round trip.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
