package chat

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"AgentChat/internal/config"
	"AgentChat/internal/conn"
	"AgentChat/internal/dispatch"
	"AgentChat/internal/permission"
	"AgentChat/internal/protocol"
	"AgentChat/internal/state"
	"AgentChat/internal/storage"
	"AgentChat/internal/stream"
	"AgentChat/internal/telemetry"
)

// Client wires the session store, connection manager, dispatcher and
// permission coordinator together and exposes the operations the REPL (or
// any other front end) drives.
type Client struct {
	cfg     config.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	db      *storage.DB
	store   *state.Store
	conns   *conn.Manager
	perms   *permission.Coordinator
	disp    *dispatch.Dispatcher
	cleanup func()

	// current is the session REPL input goes to. Only the REPL goroutine
	// touches it.
	current string
}

// NewClient initializes logging, telemetry, storage and the protocol stack.
func NewClient(cfg config.Config) (*Client, error) {
	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := state.NewStore(db, logger)
	if err := store.Load(); err != nil {
		logger.Warn("failed to load persisted sessions, starting empty", "error", err)
	}

	conns := conn.NewManager(logger)
	perms := permission.NewCoordinator(store, conns, &terminalPrompter{}, logger)
	agg := stream.New(store, logger)
	disp := dispatch.New(store, agg, perms, conns, logger, meter)

	// Removing a session tears down its connection.
	store.OnRemove = func(sessionID string) { conns.Disconnect(sessionID) }

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		db:      db,
		store:   store,
		conns:   conns,
		perms:   perms,
		disp:    disp,
		cleanup: cleanup,
	}

	go disp.Run(conns.Events())

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}
	return c, nil
}

// Store exposes the canonical session state for presentation.
func (c *Client) Store() *state.Store {
	return c.store
}

// NewSession creates a session against the configured endpoint and makes it
// current.
func (c *Client) NewSession(name string) state.Session {
	sess := state.NewSession(name, c.cfg.Endpoint, c.cfg.Credential)
	c.store.Add(sess)
	c.current = sess.ID
	c.logger.Info("created new session", "session", sess.ID, "name", name)
	return sess
}

// Connect opens the session's transport. A no-op when already open.
func (c *Client) Connect(sessionID string) error {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("no session %q", sessionID)
	}
	if c.conns.IsOpen(sessionID) {
		return nil
	}
	c.store.SetStatus(sessionID, state.StatusConnecting)
	c.conns.Connect(sessionID, sess.Endpoint, sess.Credential)
	return nil
}

// Disconnect closes the session's transport. Always leaves the session
// disconnected, whether or not a transport existed.
func (c *Client) Disconnect(sessionID string) {
	c.conns.Disconnect(sessionID)
	c.store.SetStatus(sessionID, state.StatusDisconnected)
}

// SendPrompt records the user message locally and hands the prompt frame to
// the transport. The transcript is optimistic: the message stays even when
// the send fails, and the return value tells the caller whether the agent
// actually got it.
func (c *Client) SendPrompt(ctx context.Context, sessionID, text string) (bool, error) {
	_, span := c.tracer.Start(ctx, "prompt_send",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if _, ok := c.store.Get(sessionID); !ok {
		return false, fmt.Errorf("no session %q", sessionID)
	}

	c.store.AppendMessage(sessionID, state.NewMessage(state.RoleUser, text))

	f, err := protocol.NewFrame(protocol.TypePrompt, protocol.NewPromptPayload(text))
	if err != nil {
		return false, err
	}
	sent := c.conns.Send(sessionID, f)
	if sent {
		c.disp.NoteTurnStarted(sessionID)
	} else {
		c.logger.Warn("prompt not delivered", "session", sessionID)
	}
	return sent, nil
}

// Cancel asks the agent to stop the in-flight turn. Advisory only: local
// state converges on prompt_complete or connection close.
func (c *Client) Cancel(sessionID string) bool {
	f, err := protocol.NewFrame(protocol.TypeCancel, nil)
	if err != nil {
		return false
	}
	return c.conns.Send(sessionID, f)
}

// ResolveDisplayed answers the currently displayed permission request.
func (c *Client) ResolveDisplayed(decision permission.Decision) error {
	req, ok := c.perms.Displayed()
	if !ok {
		return fmt.Errorf("no permission request pending")
	}
	return c.perms.Resolve(req.RequestID, decision)
}

// Rename relabels a session.
func (c *Client) Rename(sessionID, name string) bool {
	return c.store.Rename(sessionID, name)
}

// RemoveSession deletes a session; its connection is closed via the store's
// removal hook.
func (c *Client) RemoveSession(sessionID string) bool {
	if c.current == sessionID {
		c.current = ""
	}
	return c.store.Remove(sessionID)
}

// Close shuts down connections, telemetry and storage.
func (c *Client) Close() {
	c.conns.Close()
	c.cleanup()
	if err := c.db.Close(); err != nil {
		c.logger.Error("failed to close database", "error", err)
	}
}

// terminalPrompter surfaces permission requests on stdout; the REPL's
// /allow and /deny commands resolve them.
type terminalPrompter struct{}

func (terminalPrompter) Show(req permission.Request) {
	fmt.Printf("\n[permission] %s (reply /allow or /deny)\n", req.ToolCall.Title)
}

func (terminalPrompter) Clear() {}
