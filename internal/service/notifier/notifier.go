// Package notifier превращает доменные события в уведомления.
// На пару (event_id, purpose) приходится одна запись; повторная отправка возможна только
// для записи, брошенной в pending.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/messaging/kafka"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "foodorders_notifications_total",
	Help: "Notification outcomes by purpose (sent, failed, duplicate, reclaimed, skipped, error)",
}, []string{"purpose", "result"})

const (
	// DefaultPendingLease — сколько запись может оставаться в pending, прежде чем
	// её заберёт повторная доставка события или RecoverStale.
	DefaultPendingLease = 5 * time.Minute

	recoveryBatch   = 100
	finalizeTimeout = 5 * time.Second
)

// DedupCache — быстрый путь дедупликации перед обращением к хранилищу.
// Источник истины — NotificationRepository; кэш может терять записи.
type DedupCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

// DedupKey строит ключ дедупликации уведомления.
func DedupKey(eventID string, purpose domain.NotificationPurpose) string {
	return eventID + ":" + string(purpose)
}

// Notifier обрабатывает события и рассылает уведомления через Channel.
type Notifier struct {
	repo    domain.NotificationRepository
	channel Channel
	dedup   DedupCache
	logger  *log.Entry
	lease   time.Duration
	now     func() time.Time
}

// Option настраивает Notifier.
type Option func(*Notifier)

// WithDedupCache включает быстрый путь дедупликации.
func WithDedupCache(cache DedupCache) Option {
	return func(n *Notifier) {
		n.dedup = cache
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithPendingLease задаёт срок, после которого незавершённая запись считается брошенной.
func WithPendingLease(lease time.Duration) Option {
	return func(n *Notifier) {
		if lease > 0 {
			n.lease = lease
		}
	}
}

// New создаёт Notifier.
func New(repo domain.NotificationRepository, channel Channel, opts ...Option) *Notifier {
	n := &Notifier{
		repo:    repo,
		channel: channel,
		logger:  log.WithField("component", "notifier"),
		lease:   DefaultPendingLease,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Handle отправляет все уведомления, положенные по событию.
//
// Ошибка означает, что событие нужно доставить повторно: уведомление с финальной записью
// при повторе не уйдёт второй раз, потому что запись проверяется до отправки.
// Запись, оставшаяся в pending дольше lease, отправляется заново.
func (n *Notifier) Handle(ctx context.Context, ev domain.Event) error {
	plans := plansFor(ev)
	if len(plans) == 0 {
		n.logger.WithFields(log.Fields{
			"event_id":   ev.EventID,
			"event_type": ev.EventType,
		}).Debug("event type has no notifications")
		return nil
	}

	for _, p := range plans {
		if err := n.notify(ctx, ev, p); err != nil {
			notificationsTotal.WithLabelValues(string(p.purpose), "error").Inc()
			return fmt.Errorf("notify %s for event %s: %w", p.purpose, ev.EventID, err)
		}
	}
	return nil
}

func (n *Notifier) notify(ctx context.Context, ev domain.Event, p plan) error {
	logger := n.logger.WithFields(log.Fields{
		"event_id": ev.EventID,
		"purpose":  p.purpose,
		"order_id": ev.OrderID,
	})

	if p.recipient == "" {
		notificationsTotal.WithLabelValues(string(p.purpose), "skipped").Inc()
		logger.Warn("notification has no recipient, skipping")
		return nil
	}

	key := DedupKey(ev.EventID, p.purpose)
	if n.seen(ctx, key) {
		notificationsTotal.WithLabelValues(string(p.purpose), "duplicate").Inc()
		return nil
	}

	existing, err := n.repo.Get(ctx, ev.EventID, p.purpose)
	switch {
	case err == nil:
		if existing.Stale(n.staleBefore()) {
			return n.reclaim(ctx, logger, existing)
		}
		notificationsTotal.WithLabelValues(string(p.purpose), "duplicate").Inc()
		logger.WithField("status", existing.Status).Debug("notification already recorded")
		if existing.Status != domain.NotificationStatusPending {
			n.remember(ctx, key)
		}
		return nil
	case !errors.Is(err, domain.ErrNotificationNotFound):
		return err
	}

	subject, body, err := render(ev, p.purpose)
	if err != nil {
		return err
	}

	record, err := n.repo.Claim(ctx, domain.Notification{
		EventID:   ev.EventID,
		Purpose:   p.purpose,
		Recipient: p.recipient,
		Address:   p.recipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotificationExists) {
			notificationsTotal.WithLabelValues(string(p.purpose), "duplicate").Inc()
			logger.Debug("notification claimed by a concurrent delivery")
			return nil
		}
		return err
	}
	return n.deliver(ctx, logger, record)
}

// RecoverStale повторно отправляет уведомления, брошенные в pending
// упавшим процессом или неудачной финализацией. Возвращает число обработанных записей.
func (n *Notifier) RecoverStale(ctx context.Context) (int, error) {
	records, err := n.repo.ListStalePending(ctx, n.staleBefore(), recoveryBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale notifications: %w", err)
	}

	recovered := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		logger := n.logger.WithFields(log.Fields{
			"event_id": record.EventID,
			"purpose":  record.Purpose,
		})
		if err := n.reclaim(ctx, logger, record); err != nil {
			return recovered, fmt.Errorf("recover notification %s: %w", record.ID, err)
		}
		recovered++
	}
	return recovered, nil
}

// RunRecovery вызывает RecoverStale раз в interval до отмены ctx.
func (n *Notifier) RunRecovery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = n.lease
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		recovered, err := n.RecoverStale(ctx)
		if err != nil && ctx.Err() == nil {
			n.logger.WithError(err).Warn("stale notification recovery failed")
		}
		if recovered > 0 {
			n.logger.WithField("recovered", recovered).Warn("stale pending notifications resent")
		}
	}
}

// reclaim забирает зависшую запись и отправляет её заново по сохранённому тексту.
// Запись, которую успела забрать другая реплика, пропускается.
func (n *Notifier) reclaim(ctx context.Context, logger *log.Entry, stale domain.Notification) error {
	record, err := n.repo.Reclaim(ctx, stale.ID, n.staleBefore())
	if err != nil {
		if errors.Is(err, domain.ErrNotificationExists) {
			notificationsTotal.WithLabelValues(string(stale.Purpose), "duplicate").Inc()
			logger.Debug("stale notification reclaimed by a concurrent delivery")
			return nil
		}
		return err
	}

	notificationsTotal.WithLabelValues(string(record.Purpose), "reclaimed").Inc()
	logger.WithField("pending_since", stale.UpdatedAt).Warn("resending notification left in pending")
	return n.deliver(ctx, logger, record)
}

func (n *Notifier) deliver(ctx context.Context, logger *log.Entry, record domain.Notification) error {
	status, errMsg := domain.NotificationStatusSent, ""
	if sendErr := n.channel.Send(ctx, Message{
		EventID:   record.EventID,
		Purpose:   record.Purpose,
		Recipient: record.Recipient,
		Address:   record.Address,
		Subject:   record.Subject,
		Body:      record.Body,
	}); sendErr != nil {
		status, errMsg = domain.NotificationStatusFailed, sendErr.Error()
		logger.WithError(sendErr).Warn("notification delivery failed")
	}

	// Запись финализируется даже после отмены ctx, иначе она останется в pending.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := n.repo.Finalize(finalizeCtx, record.ID, status, errMsg); err != nil {
		return err
	}

	notificationsTotal.WithLabelValues(string(record.Purpose), string(status)).Inc()
	logger.WithField("status", status).Info("notification processed")
	n.remember(ctx, DedupKey(record.EventID, record.Purpose))
	return nil
}

func (n *Notifier) staleBefore() time.Time {
	return n.now().Add(-n.lease)
}

func (n *Notifier) seen(ctx context.Context, key string) bool {
	if n.dedup == nil {
		return false
	}
	seen, err := n.dedup.Seen(ctx, key)
	if err != nil {
		n.logger.WithError(err).WithField("key", key).Warn("dedup cache lookup failed")
		return false
	}
	return seen
}

func (n *Notifier) remember(ctx context.Context, key string) {
	if n.dedup == nil {
		return
	}
	if err := n.dedup.Remember(ctx, key); err != nil {
		n.logger.WithError(err).WithField("key", key).Warn("dedup cache update failed")
	}
}

// MessageHandler адаптирует Notifier к consumer group Kafka.
// Неразбираемое сообщение помечается окончательным и уходит в DLQ без повторов.
func (n *Notifier) MessageHandler() kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		ev, err := kafka.DecodeEvent(message)
		if err != nil {
			return err
		}
		return n.Handle(ctx, ev)
	}
}
