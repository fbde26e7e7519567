// Package bridge forwards session events to the backend over HTTP.
package bridge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"whatsflow/config"
	"whatsflow/internal/metrics"
	"whatsflow/internal/model"

	"go.uber.org/zap"
)

const SignatureHeader = "X-WhatsFlow-Signature"

const (
	PathConnected    = "/api/whatsapp/connected"
	PathDisconnected = "/api/whatsapp/disconnected"
	PathMessage      = "/api/messages/receive"
	PathChatImport   = "/api/chats/import"
)

var ErrDeliveryFailed = errors.New("bridge delivery failed")

type ConnectedPayload struct {
	InstanceID  string     `json:"instanceId"`
	User        model.User `json:"user"`
	ConnectedAt time.Time  `json:"connectedAt"`
}

type DisconnectedPayload struct {
	InstanceID string `json:"instanceId"`
	Reason     string `json:"reason"`
}

type MessagePayload struct {
	InstanceID  string    `json:"instanceId"`
	From        string    `json:"from"`
	Message     string    `json:"message"`
	PushName    string    `json:"pushName,omitempty"`
	ContactName string    `json:"contactName,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"messageId"`
	MessageType string    `json:"messageType"`
}

type ChatImportPayload struct {
	InstanceID   string       `json:"instanceId"`
	Chats        []model.Chat `json:"chats"`
	User         *model.User  `json:"user,omitempty"`
	BatchNumber  int          `json:"batchNumber"`
	TotalBatches int          `json:"totalBatches"`
}

type delivery struct {
	event   string
	path    string
	payload interface{}
}

// Client posts events to the backend. Events of one instance are delivered
// in order on a dedicated lane; lanes never wait on each other.
type Client struct {
	baseURL    string
	secret     string
	attempts   int
	retryDelay time.Duration
	queueSize  int
	batchSize  int
	pacing     time.Duration
	http       *http.Client

	mu     sync.Mutex
	lanes  map[string]chan delivery
	closed bool
	wg     sync.WaitGroup
}

func New(cfg config.BridgeConfig) *Client {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	queue := cfg.QueueSize
	if queue < 1 {
		queue = 1
	}
	batch := cfg.ImportBatchSize
	if batch < 1 {
		batch = 20
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     cfg.Secret,
		attempts:   attempts,
		retryDelay: cfg.RetryDelay,
		queueSize:  queue,
		batchSize:  batch,
		pacing:     cfg.ImportPacing,
		http:       &http.Client{Timeout: cfg.Timeout},
		lanes:      make(map[string]chan delivery),
	}
}

// Enabled reports whether a backend URL is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

func (c *Client) Connected(instanceID string, user model.User, at time.Time) {
	c.enqueue(instanceID, delivery{
		event: "connected",
		path:  PathConnected,
		payload: ConnectedPayload{
			InstanceID:  instanceID,
			User:        user,
			ConnectedAt: at.UTC(),
		},
	})
}

func (c *Client) Disconnected(instanceID, reason string) {
	c.enqueue(instanceID, delivery{
		event:   "disconnected",
		path:    PathDisconnected,
		payload: DisconnectedPayload{InstanceID: instanceID, Reason: reason},
	})
}

func (c *Client) MessageReceived(instanceID string, msg model.InboundMessage) {
	c.enqueue(instanceID, delivery{
		event: "message",
		path:  PathMessage,
		payload: MessagePayload{
			InstanceID:  instanceID,
			From:        msg.From,
			Message:     msg.Text,
			PushName:    msg.PushName,
			ContactName: msg.ContactName,
			Timestamp:   msg.Timestamp.UTC(),
			MessageID:   msg.ID,
			MessageType: msg.Type,
		},
	})
}

// ImportChats sends chats in paced batches and stops at the first batch
// that cannot be delivered.
func (c *Client) ImportChats(ctx context.Context, instanceID string, user *model.User, chats []model.Chat) error {
	if !c.Enabled() || len(chats) == 0 {
		return nil
	}

	total := (len(chats) + c.batchSize - 1) / c.batchSize
	for i := 0; i < total; i++ {
		if i > 0 && c.pacing > 0 {
			select {
			case <-time.After(c.pacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		end := (i + 1) * c.batchSize
		if end > len(chats) {
			end = len(chats)
		}
		payload := ChatImportPayload{
			InstanceID:   instanceID,
			Chats:        chats[i*c.batchSize : end],
			User:         user,
			BatchNumber:  i + 1,
			TotalBatches: total,
		}
		if err := c.Deliver(ctx, "chat_import", PathChatImport, payload); err != nil {
			return fmt.Errorf("batch %d/%d: %w", i+1, total, err)
		}
		zap.L().Debug("chat batch delivered",
			zap.String("instance_id", instanceID),
			zap.Int("batch", i+1),
			zap.Int("total", total))
	}
	return nil
}

// Forget drops the lane of a deleted instance after it drains.
func (c *Client) Forget(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lane, ok := c.lanes[instanceID]; ok {
		close(lane)
		delete(c.lanes, instanceID)
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, lane := range c.lanes {
		close(lane)
		delete(c.lanes, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// enqueue never blocks; a full lane drops the event.
func (c *Client) enqueue(instanceID string, d delivery) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	lane, ok := c.lanes[instanceID]
	if !ok {
		lane = make(chan delivery, c.queueSize)
		c.lanes[instanceID] = lane
		c.wg.Add(1)
		go c.drain(instanceID, lane)
	}

	select {
	case lane <- d:
	default:
		metrics.BridgeDeliveries.WithLabelValues(d.event, "dropped").Inc()
		zap.L().Warn("bridge queue full, event dropped",
			zap.String("instance_id", instanceID),
			zap.String("event", d.event))
	}
}

func (c *Client) drain(instanceID string, lane chan delivery) {
	defer c.wg.Done()
	for d := range lane {
		if err := c.Deliver(context.Background(), d.event, d.path, d.payload); err != nil {
			zap.L().Error("bridge delivery dropped",
				zap.String("instance_id", instanceID),
				zap.String("event", d.event),
				zap.Error(err))
		}
	}
}

// Deliver posts payload to path, retrying with a fixed delay up to the
// configured number of attempts.
func (c *Client) Deliver(ctx context.Context, event, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	start := time.Now()
	defer func() {
		metrics.BridgeDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 && c.retryDelay > 0 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.post(ctx, path, body)
		if lastErr == nil {
			metrics.BridgeDeliveries.WithLabelValues(event, "ok").Inc()
			return nil
		}
		zap.L().Debug("bridge attempt failed",
			zap.String("event", event),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	metrics.BridgeDeliveries.WithLabelValues(event, "failed").Inc()
	return fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, c.attempts, lastErr)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.secret, body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
