// Package whatsapp wraps the Whatsmeow client for WhatsApp integration
// in Conversia.
//
// It manages one channel session per tenant: credential storage, QR
// login, reconnection and message send/receive.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/conversia/conversia/internal/models"
)

// Constants for WhatsApp client configuration
const (
	// DefaultStateDir is the default directory for per-tenant session databases.
	DefaultStateDir = "/var/lib/conversia/sessions"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
	// ReconnectDelay is how long to wait before reviving a dropped session.
	ReconnectDelay = 6 * time.Second
)

// Opts holds configuration options for the session manager.
type Opts struct {
	StateDir   string // directory for per-tenant whatsmeow SQLite files
	TerminalQR bool   // also render login QR codes to stdout
}

// Option defines a configuration option for the session manager.
type Option func(*Opts)

// WithStateDir sets the directory holding per-tenant session databases.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithTerminalQR renders login QR codes to stdout in addition to
// exposing them through the control plane.
func WithTerminalQR() Option {
	return func(o *Opts) { o.TerminalQR = true }
}

// MessageHandler receives inbound text messages from any tenant session.
type MessageHandler func(msg models.Message)

// ReadyHandler is invoked when a tenant's session becomes connected.
type ReadyHandler func(tenantID string)

// session is one tenant's live whatsmeow client plus login state.
type session struct {
	tenantID string
	client   *whatsmeow.Client

	mu     sync.Mutex
	qrCode string
}

// Manager owns every tenant's WhatsApp session.
type Manager struct {
	opts      Opts
	onMessage MessageHandler
	onReady   ReadyHandler

	mu       sync.RWMutex
	sessions map[string]*session
	stopped  bool
}

// NewManager creates a session manager, applying any provided options.
func NewManager(opts ...Option) *Manager {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	slog.Debug("WhatsApp Manager created", "state_dir", cfg.StateDir, "terminal_qr", cfg.TerminalQR)
	return &Manager{
		opts:     cfg,
		sessions: make(map[string]*session),
	}
}

// OnMessage sets the inbound message handler. Must be called before any
// session is started.
func (m *Manager) OnMessage(fn MessageHandler) { m.onMessage = fn }

// OnReady sets the session-ready handler. Must be called before any
// session is started.
func (m *Manager) OnReady(fn ReadyHandler) { m.onReady = fn }

// StartSession brings up the tenant's channel session. Starting an
// already-running session is a no-op.
func (m *Manager) StartSession(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return models.ErrEmptyTenantID
	}

	m.mu.Lock()
	if _, running := m.sessions[tenantID]; running {
		m.mu.Unlock()
		slog.Debug("WhatsApp session already running", "tenantID", tenantID)
		return nil
	}
	// Reserve the slot before the slow connect so concurrent starts bail out.
	sess := &session{tenantID: tenantID}
	m.sessions[tenantID] = sess
	m.mu.Unlock()

	if err := m.connect(ctx, sess); err != nil {
		m.mu.Lock()
		delete(m.sessions, tenantID)
		m.mu.Unlock()
		return err
	}
	slog.Info("WhatsApp session started", "tenantID", tenantID)
	return nil
}

// connect initializes the tenant's device store and whatsmeow client.
func (m *Manager) connect(ctx context.Context, sess *session) error {
	dir := filepath.Join(m.opts.StateDir, sess.tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Failed to create session directory", "error", err, "dir", dir)
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, "session.db"))

	dbLog := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, dbLog)
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err, "tenantID", sess.tenantID)
		return fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get device from store", "error", err, "tenantID", sess.tenantID)
		return fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	client := whatsmeow.NewClient(deviceStore, clientLog)
	sess.client = client
	client.AddEventHandler(func(evt interface{}) { m.handleEvent(sess, evt) })

	if client.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR flow", "tenantID", sess.tenantID)
		qrChan, _ := client.GetQRChannel(context.Background())
		if err := client.Connect(); err != nil {
			slog.Error("Failed to connect during login", "error", err, "tenantID", sess.tenantID)
			return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		go m.consumeQR(sess, qrChan)
		return nil
	}

	slog.Debug("WhatsApp already logged in, connecting", "tenantID", sess.tenantID)
	if err := client.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp server", "error", err, "tenantID", sess.tenantID)
		return fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	return nil
}

// consumeQR tracks login QR codes so the control plane can serve them.
func (m *Manager) consumeQR(sess *session, qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			sess.mu.Lock()
			sess.qrCode = evt.Code
			sess.mu.Unlock()
			slog.Info("WhatsApp QR updated", "tenantID", sess.tenantID)
			if m.opts.TerminalQR {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			}
		case "success":
			sess.mu.Lock()
			sess.qrCode = ""
			sess.mu.Unlock()
			slog.Info("WhatsApp login succeeded", "tenantID", sess.tenantID)
		default:
			slog.Debug("WhatsApp login event", "event", evt.Event, "tenantID", sess.tenantID)
		}
	}
}

// handleEvent routes whatsmeow events for one tenant session.
func (m *Manager) handleEvent(sess *session, evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		m.handleIncomingMessage(sess, v)
	case *events.Connected:
		sess.mu.Lock()
		sess.qrCode = ""
		sess.mu.Unlock()
		slog.Info("WhatsApp session connected", "tenantID", sess.tenantID)
		if m.onReady != nil {
			go m.onReady(sess.tenantID)
		}
	case *events.Disconnected:
		slog.Warn("WhatsApp session disconnected, scheduling reconnect", "tenantID", sess.tenantID, "delay", ReconnectDelay)
		m.scheduleReconnect(sess)
	case *events.LoggedOut:
		slog.Warn("WhatsApp session logged out; QR login required again", "tenantID", sess.tenantID)
	}
}

// handleIncomingMessage extracts text content and hands it to the
// inbound handler. Non-text messages and self-sent messages are skipped.
func (m *Manager) handleIncomingMessage(sess *session, evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}
	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsApp ignoring non-text message", "tenantID", sess.tenantID, "from", evt.Info.Sender.String())
		return
	}

	if m.onMessage == nil {
		return
	}
	m.onMessage(models.Message{
		TenantID: sess.tenantID,
		From:     evt.Info.Sender.User,
		Body:     text,
		Time:     evt.Info.Timestamp.Unix(),
	})
}

// scheduleReconnect revives a dropped session after ReconnectDelay.
func (m *Manager) scheduleReconnect(sess *session) {
	time.AfterFunc(ReconnectDelay, func() {
		m.mu.RLock()
		stopped := m.stopped
		m.mu.RUnlock()
		if stopped || sess.client == nil || sess.client.IsConnected() {
			return
		}
		if err := sess.client.Connect(); err != nil {
			slog.Error("WhatsApp reconnect failed, retrying", "error", err, "tenantID", sess.tenantID)
			m.scheduleReconnect(sess)
		}
	})
}

// SendMessage sends a WhatsApp message through the tenant's session.
func (m *Manager) SendMessage(ctx context.Context, tenantID, to, body string) error {
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	m.mu.RLock()
	sess := m.sessions[tenantID]
	m.mu.RUnlock()
	if sess == nil || sess.client == nil {
		return models.ErrSessionNotStarted
	}

	jid := types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}
	if _, err := sess.client.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "tenantID", tenantID, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent", "tenantID", tenantID, "to", to, "body_length", len(body))
	return nil
}

// Status reports the tenant session's channel state.
func (m *Manager) Status(tenantID string) models.ChannelStatus {
	m.mu.RLock()
	sess := m.sessions[tenantID]
	m.mu.RUnlock()
	if sess == nil || sess.client == nil {
		return models.ChannelStatusDisconnected
	}
	sess.mu.Lock()
	waiting := sess.qrCode != ""
	sess.mu.Unlock()
	if waiting {
		return models.ChannelStatusWaitingQR
	}
	if sess.client.IsConnected() {
		return models.ChannelStatusConnected
	}
	return models.ChannelStatusDisconnected
}

// QRCode returns the tenant's pending login QR code, or empty when no
// login is in progress.
func (m *Manager) QRCode(tenantID string) string {
	m.mu.RLock()
	sess := m.sessions[tenantID]
	m.mu.RUnlock()
	if sess == nil {
		return ""
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.qrCode
}

// Stop disconnects every session.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		if sess.client != nil {
			sess.client.Disconnect()
		}
	}
	slog.Info("WhatsApp manager stopped", "sessions", len(sessions))
}
