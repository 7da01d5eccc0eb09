package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/tool"
)

const (
	// maxConnectAttempts bounds automatic reconnects; past it the server is
	// parked until an explicit Restart.
	maxConnectAttempts = 3
	// retryBaseDelay scales linearly with the failed attempt count.
	retryBaseDelay = 1000 * time.Millisecond
)

// ServerConfig describes one external capability server to launch and
// supervise.
type ServerConfig struct {
	Name    string   `json:"name" koanf:"name"`
	Command string   `json:"command" koanf:"command"`
	Args    []string `json:"args" koanf:"args"`
	Env     []string `json:"env" koanf:"env"` // extra KEY=VALUE entries
	// DisabledTools suppresses matching remote tools from being bridged.
	// Patterns use path.Match syntax against the remote tool name.
	DisabledTools []string `json:"disabled_tools" koanf:"disabled_tools"`
}

// ServerStatus is a diagnostic snapshot of one supervised server.
type ServerStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
}

// session is the slice of the SDK client session the manager depends on;
// tests substitute fakes.
type session interface {
	ListTools(ctx context.Context, params *sdk.ListToolsParams) (*sdk.ListToolsResult, error)
	CallTool(ctx context.Context, params *sdk.CallToolParams) (*sdk.CallToolResult, error)
	Close() error
}

// dialFunc launches one server process and performs the protocol handshake.
type dialFunc func(ctx context.Context, cfg ServerConfig) (session, error)

type connState int

const (
	stateRegistering connState = iota
	stateConnected
	stateDisconnected
)

type serverConn struct {
	mu       sync.Mutex
	cfg      ServerConfig
	state    connState
	session  session
	attempts int      // failed connects since last success or restart
	tools    []string // local names bridged into the registry
}

// Manager supervises remote capability servers and bridges their tools into
// the local registry under "mcp_<server>_<tool>" names.
type Manager struct {
	mu        sync.Mutex
	servers   map[string]*serverConn
	registry  *tool.Registry
	logger    *zap.Logger
	dial      dialFunc
	baseDelay time.Duration
	lookPath  func(string) (string, error)
}

// NewManager wires a manager to the registry it bridges tools into.
func NewManager(registry *tool.Registry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		servers:   make(map[string]*serverConn),
		registry:  registry,
		logger:    logger.Named("mcp"),
		baseDelay: retryBaseDelay,
		lookPath:  exec.LookPath,
	}
	m.dial = m.sdkDial
	return m
}

// sdkDial starts the server command over stdio and connects an SDK client.
func (m *Manager) sdkDial(ctx context.Context, cfg ServerConfig) (session, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	client := sdk.NewClient(&sdk.Implementation{Name: "osprey", Version: "1.0.0"}, nil)
	sess, err := client.Connect(ctx, &sdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// AddServer registers a server. An unresolvable launch command skips the
// connection step entirely: the server stays tracked as disconnected so a
// missing dependency can never hang startup. A failed best-effort connect
// also does not fail registration; the server is retried lazily on first
// tool use.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("server name must not be empty")
	}
	if cfg.Command == "" {
		return fmt.Errorf("server %q has no launch command", cfg.Name)
	}

	m.mu.Lock()
	if _, exists := m.servers[cfg.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("server %q already registered", cfg.Name)
	}
	conn := &serverConn{cfg: cfg, state: stateRegistering}
	m.servers[cfg.Name] = conn
	m.mu.Unlock()

	if _, err := m.lookPath(cfg.Command); err != nil {
		conn.mu.Lock()
		conn.state = stateDisconnected
		conn.mu.Unlock()
		m.logger.Debug("server command not resolvable, skipping connect",
			zap.String("server", cfg.Name), zap.String("command", cfg.Command))
		return nil
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if err := m.connectLocked(ctx, conn); err != nil {
		m.logger.Warn("initial connect failed, will retry on first use",
			zap.String("server", cfg.Name), zap.Error(err))
	}
	return nil
}

// connectLocked dials the server and bridges its tools. Caller holds
// conn.mu. A failure increments the attempt counter.
func (m *Manager) connectLocked(ctx context.Context, conn *serverConn) error {
	sess, err := m.dial(ctx, conn.cfg)
	if err != nil {
		conn.attempts++
		conn.state = stateDisconnected
		return fmt.Errorf("connect %s: %w", conn.cfg.Name, err)
	}

	listed, err := sess.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		sess.Close()
		conn.attempts++
		conn.state = stateDisconnected
		return fmt.Errorf("list tools on %s: %w", conn.cfg.Name, err)
	}

	conn.session = sess
	conn.state = stateConnected
	conn.attempts = 0
	m.bridgeToolsLocked(conn, listed.Tools)
	m.logger.Info("server connected",
		zap.String("server", conn.cfg.Name), zap.Int("tools", len(conn.tools)))
	return nil
}

// bridgeToolsLocked registers each remote tool locally, honoring disable
// patterns. Already-bridged names are left in place across reconnects.
func (m *Manager) bridgeToolsLocked(conn *serverConn, tools []*sdk.Tool) {
	server := conn.cfg.Name
	for _, remote := range tools {
		if m.disabled(conn.cfg, remote.Name) {
			m.logger.Debug("remote tool disabled by pattern",
				zap.String("server", server), zap.String("tool", remote.Name))
			continue
		}

		localName := fmt.Sprintf("mcp_%s_%s", server, remote.Name)
		if alreadyBridged(conn.tools, localName) {
			continue
		}

		schema := ""
		if remote.InputSchema != nil {
			if raw, err := json.Marshal(remote.InputSchema); err == nil {
				schema = string(raw)
			}
		}

		remoteName := remote.Name
		t := tool.Tool{
			Name:        localName,
			Description: remote.Description,
			SchemaJSON:  schema,
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				res := m.CallTool(ctx, server, remoteName, args)
				if !res.Success {
					return "", errors.New(res.Error)
				}
				return res.Output, nil
			},
		}
		if err := m.registry.Register(t); err != nil {
			m.logger.Warn("could not bridge remote tool",
				zap.String("server", server), zap.String("tool", remote.Name), zap.Error(err))
			continue
		}
		conn.tools = append(conn.tools, localName)
	}
}

func alreadyBridged(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (m *Manager) disabled(cfg ServerConfig, toolName string) bool {
	for _, pattern := range cfg.DisabledTools {
		ok, err := path.Match(pattern, toolName)
		if err != nil {
			m.logger.Debug("bad disable pattern", zap.String("pattern", pattern))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// CallTool dispatches one call to a server, reconnecting lazily when
// disconnected. Remote errors and transport failures come back as failed
// results, never as panics through the loop.
func (m *Manager) CallTool(ctx context.Context, server, toolName string, args map[string]any) tool.Result {
	m.mu.Lock()
	conn, ok := m.servers[server]
	m.mu.Unlock()
	if !ok {
		err := &tool.NotFoundError{Name: server}
		return tool.Result{Success: false, Error: fmt.Sprintf("server %q not registered", server), Err: err}
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.state != stateConnected {
		if err := m.reconnectLocked(ctx, conn); err != nil {
			return tool.Result{Success: false, Error: err.Error(), Err: err}
		}
	}

	res, err := conn.session.CallTool(ctx, &sdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		conn.state = stateDisconnected
		if conn.session != nil {
			conn.session.Close()
			conn.session = nil
		}
		return tool.Result{Success: false, Error: fmt.Sprintf("call %s on %s: %v", toolName, server, err), Err: err}
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return tool.Result{Success: false, Error: text}
	}
	return tool.Result{Success: true, Output: text}
}

// reconnectLocked retries the connection within the attempt budget, waiting
// baseDelay times the failed-attempt count before each try.
func (m *Manager) reconnectLocked(ctx context.Context, conn *serverConn) error {
	for conn.attempts < maxConnectAttempts {
		if err := sleepCtx(ctx, time.Duration(conn.attempts)*m.baseDelay); err != nil {
			return err
		}
		if err := m.connectLocked(ctx, conn); err != nil {
			m.logger.Warn("reconnect failed",
				zap.String("server", conn.cfg.Name),
				zap.Int("attempts", conn.attempts), zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("server %s unavailable after %d attempts; restart to retry", conn.cfg.Name, conn.attempts)
}

// Restart resets the attempt budget and reconnects now.
func (m *Manager) Restart(ctx context.Context, server string) error {
	m.mu.Lock()
	conn, ok := m.servers[server]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("server %q not registered", server)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.session != nil {
		conn.session.Close()
		conn.session = nil
	}
	conn.state = stateDisconnected
	conn.attempts = 0
	return m.connectLocked(ctx, conn)
}

// Servers reports a snapshot of every supervised server, sorted by name.
func (m *Manager) Servers() []ServerStatus {
	m.mu.Lock()
	conns := make([]*serverConn, 0, len(m.servers))
	for _, c := range m.servers {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	out := make([]ServerStatus, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		out = append(out, ServerStatus{
			Name:      c.cfg.Name,
			Connected: c.state == stateConnected,
			ToolCount: len(c.tools),
		})
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close tears down every server concurrently, unbridges their tools, and
// joins partial failures into one error.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := make([]*serverConn, 0, len(m.servers))
	for _, c := range m.servers {
		conns = append(conns, c)
	}
	m.servers = make(map[string]*serverConn)
	m.mu.Unlock()

	errCh := make(chan error, len(conns))
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *serverConn) {
			defer wg.Done()
			c.mu.Lock()
			defer c.mu.Unlock()
			for _, name := range c.tools {
				m.registry.Unregister(name)
			}
			c.tools = nil
			if c.session != nil {
				if err := c.session.Close(); err != nil {
					errCh <- fmt.Errorf("close %s: %w", c.cfg.Name, err)
				}
				c.session = nil
			}
			c.state = stateDisconnected
		}(conn)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// flattenContent joins remote text blocks; non-text blocks carry no useful
// transcript form and are dropped.
func flattenContent(blocks []sdk.Content) string {
	var parts []string
	for _, block := range blocks {
		if tc, ok := block.(*sdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
