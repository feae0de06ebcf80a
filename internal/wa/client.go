package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// ErrNotLinked is returned when the device has not been paired yet.
var ErrNotLinked = errors.New("whatsapp device not linked")

// Config holds configuration to initialise the WhatsApp alert client.
type Config struct {
	StorePath string
	LogLevel  string
	AlertJID  string
}

// Enabled reports whether both a store and an alert recipient are set.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.StorePath) != "" && strings.TrimSpace(c.AlertJID) != ""
}

// Client wraps the WhatsMeow client and delivers operator alerts to one JID.
type Client struct {
	client *whatsmeow.Client
	to     types.JID
	logger *slog.Logger
}

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}
	to, err := ParseRecipient(cfg.AlertJID)
	if err != nil {
		return nil, err
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client: client,
		to:     to,
		logger: logger.With("component", "wa"),
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// ParseRecipient accepts a full JID or a bare phone number.
func ParseRecipient(raw string) (types.JID, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "+")
	if raw == "" {
		return types.JID{}, errors.New("alert recipient is required")
	}
	if !strings.Contains(raw, "@") {
		return types.NewJID(raw, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse alert recipient: %w", err)
	}
	return jid, nil
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected", "alert_to", c.to.String())
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.Chat.User == c.to.User {
			c.logger.Debug("operator message received", "from", v.Info.Sender.String(), "text", v.Message.GetConversation())
		}
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	case *events.LoggedOut:
		c.logger.Error("device logged out, alerts disabled until re-paired")
	}
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string { return "whatsapp" }

// Send delivers an alert text to the configured recipient.
func (c *Client) Send(ctx context.Context, text string) error {
	if c.client.Store.ID == nil {
		return ErrNotLinked
	}
	message := &waProto.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, c.to, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}
