package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

// Message — готовое к доставке уведомление.
type Message struct {
	EventID   string
	Purpose   domain.NotificationPurpose
	Recipient string
	Address   string
	Subject   string
	Body      string
}

// Channel доставляет уведомление получателю. Способ доставки (почта, push, SMS) — за реализацией.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// LogChannel пишет уведомления в лог. Используется, когда внешний канал не настроен.
type LogChannel struct {
	logger *log.Entry
}

// NewLogChannel создаёт канал-логгер.
func NewLogChannel(logger *log.Entry) *LogChannel {
	if logger == nil {
		logger = log.WithField("component", "notification-log-channel")
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Send(_ context.Context, msg Message) error {
	c.logger.WithFields(log.Fields{
		"event_id":  msg.EventID,
		"purpose":   msg.Purpose,
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
	}).Info(msg.Body)
	return nil
}

const defaultWebhookTimeout = 5 * time.Second

// WebhookChannel отправляет уведомление JSON-запросом POST на внешний сервис доставки.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel создаёт канал; клиент передаёт trace-контекст через otelhttp.
func NewWebhookChannel(url string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{
			Timeout:   defaultWebhookTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &WebhookChannel{url: url, client: client}
}

type webhookRequest struct {
	EventID   string `json:"eventId"`
	Purpose   string `json:"purpose"`
	Recipient string `json:"recipient"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(webhookRequest{
		EventID:   msg.EventID,
		Purpose:   string(msg.Purpose),
		Recipient: msg.Recipient,
		To:        msg.Address,
		Subject:   msg.Subject,
		Body:      msg.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.EventID+":"+string(msg.Purpose))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification %s/%s: %w", msg.EventID, msg.Purpose, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Channel = (*LogChannel)(nil)
	_ Channel = (*WebhookChannel)(nil)
)
