// Package mqtt carries commands to devices and their responses back over an
// MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/fleetmaint/backend/internal/config"
	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
)

var (
	ErrNotConnected = errors.New("mqtt: not connected")
	ErrTimeout      = errors.New("mqtt: operation timed out")
)

// CommandTopic is <prefix>/cmd/<type>/<asset>/<operation>.
func CommandTopic(prefix string, cmd domain.Command) string {
	return fmt.Sprintf("%s/cmd/%s/%s/%s", prefix, cmd.Asset.TypeID, cmd.Asset.AssetID, cmd.Operation.Topic())
}

// ResponseFilter matches every device response below root.
func ResponseFilter(root string) string {
	return root + "/rsp/#"
}

// StatusFilter matches <root>/status/<type>/<asset>.
func StatusFilter(root string) string {
	return root + "/status/+/+"
}

type subscription struct {
	filter  string
	handler paho.MessageHandler
}

// Client is the broker connection. Subscriptions registered before or after
// Connect are restored on every reconnect.
type Client struct {
	client paho.Client
	cfg    config.MQTTConfig
	log    *logger.Logger

	mu   sync.Mutex
	subs []subscription
}

func NewClient(cfg config.MQTTConfig, log *logger.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	c := &Client{cfg: cfg, log: log}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		// Handlers may wait for a worker slot; ordered delivery would stall
		// the packet loop and with it every pending PUBACK.
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt_connection_lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	c.client = paho.NewClient(opts)
	return c
}

var _ ports.CommandTransport = (*Client)(nil)

func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		tok := client.Subscribe(s.filter, c.cfg.QoS, s.handler)
		if !tok.WaitTimeout(c.cfg.ConnectTimeout) {
			c.log.Errorw("mqtt_subscribe_timeout", "filter", s.filter)
			continue
		}
		if err := tok.Error(); err != nil {
			c.log.Errorw("mqtt_subscribe_failed", "filter", s.filter, "error", err)
			continue
		}
		c.log.Infow("mqtt_subscribe_ok", "filter", s.filter)
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := wait(ctx, c.client.Connect(), c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.BrokerURL, err)
	}
	c.log.Infow("mqtt_connect_ok", "broker", c.cfg.BrokerURL, "client_id", c.cfg.ClientID)
	return nil
}

// Subscribe registers handler for filter, subscribing right away when the
// client is connected.
func (c *Client) Subscribe(filter string, handler paho.MessageHandler) error {
	c.mu.Lock()
	c.subs = append(c.subs, subscription{filter: filter, handler: handler})
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return wait(context.Background(), c.client.Subscribe(filter, c.cfg.QoS, handler), c.cfg.ConnectTimeout)
}

func (c *Client) Send(ctx context.Context, cmd domain.Command) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	prefix := cmd.TopicPrefix
	if prefix == "" {
		prefix = c.cfg.CommandPrefix
	}
	topic := CommandTopic(prefix, cmd)
	if err := wait(ctx, c.client.Publish(topic, c.cfg.QoS, false, payload), c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.log.Debugw("mqtt_command_sent", "topic", topic, "session_id", cmd.SessionID)
	return nil
}

// ReleaseRetained clears the retained message of topic by publishing an
// empty retained payload.
func (c *Client) ReleaseRetained(ctx context.Context, topic string) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return wait(ctx, c.client.Publish(topic, c.cfg.QoS, true, []byte{}), c.cfg.PublishTimeout)
}

func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.log.Infow("mqtt_disconnect_ok")
}

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return ErrTimeout
	}
}
