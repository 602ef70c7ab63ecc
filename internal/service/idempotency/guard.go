package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

// Время жизни ключа идемпотентности по умолчанию.
const DefaultTTL = 24 * time.Hour

var idempotencyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "foodorders_idempotency_requests_total",
	Help: "Requests carrying an Idempotency-Key by outcome.",
}, []string{"outcome"})

// Response — ответ, который сохраняется под ключом и отдаётся при повторе.
type Response struct {
	Status int
	Body   []byte
}

// Guard исполняет обработчик не больше одного раза на ключ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт время жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт логгер.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создаёт Guard поверх хранилища ключей. При nil repo ключи игнорируются.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    DefaultTTL,
		logger: log.WithField("component", "idempotency-guard"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute выполняет handler под ключом key.
//
// Повтор с тем же ключом и тем же requestHash получает сохранённый ответ (replayed = true).
// Другой requestHash даёт ErrIdempotencyHashMismatch, незавершённый запрос с тем же ключом
// получает ErrIdempotencyKeyAlreadyExists. Пустой ключ выполняет handler без сохранения.
func (g *Guard) Execute(
	ctx context.Context,
	key, requestHash string,
	handler func(context.Context) Response,
) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return handler(ctx), false, nil
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(key, record, err)
	}

	resp = handler(ctx)
	outcome := g.store(context.WithoutCancel(ctx), key, resp)
	idempotencyRequestsTotal.WithLabelValues(outcome).Inc()
	return resp, false, nil
}

func (g *Guard) replay(key string, record domain.IdempotencyRecord, createErr error) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		idempotencyRequestsTotal.WithLabelValues("hash_mismatch").Inc()
		return Response{}, false, fmt.Errorf("%w: key %s", domain.ErrIdempotencyHashMismatch, key)
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Replayable() {
			idempotencyRequestsTotal.WithLabelValues("replayed").Inc()
			return Response{Status: record.HTTPStatus, Body: append([]byte(nil), record.ResponseBody...)}, true, nil
		}
		idempotencyRequestsTotal.WithLabelValues("in_progress").Inc()
		return Response{}, false, fmt.Errorf("%w: request with key %s is still processing", domain.ErrIdempotencyKeyAlreadyExists, key)
	case domain.KindOf(createErr) == domain.ErrValidation:
		return Response{}, false, createErr
	default:
		idempotencyRequestsTotal.WithLabelValues("error").Inc()
		g.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Response{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

// store фиксирует исход запроса под ключом и возвращает метку для метрики.
// 4xx описывает сам запрос и отдаётся при повторе как есть. 5xx описывает сбой
// сервера или зависимости, поэтому ключ освобождается и повтор выполнится заново.
func (g *Guard) store(ctx context.Context, key string, resp Response) string {
	status := resp.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	var (
		outcome string
		err     error
	)
	switch {
	case status >= http.StatusInternalServerError:
		outcome, err = "released", g.repo.Release(ctx, key)
	case status >= http.StatusBadRequest:
		outcome, err = "rejected", g.repo.MarkFailed(ctx, key, resp.Body, status)
	default:
		outcome, err = "executed", g.repo.MarkDone(ctx, key, resp.Body, status)
	}
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
			"http_status":     status,
		}).Warn("failed to store idempotent response")
	}
	return outcome
}

// ScopedKey привязывает клиентский Idempotency-Key к актору, чтобы одинаковые
// ключи разных клиентов не пересекались. Пустой ключ остаётся пустым.
func ScopedKey(actorID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return actorID + "/" + key
}

// RequestHash считает отпечаток запроса: scope (метод и путь, актор) плюс канонизированное тело.
func RequestHash(scope string, payload []byte) string {
	data := make([]byte, 0, len(scope)+1+len(payload))
	data = append(data, scope...)
	data = append(data, ':')
	data = append(data, payload...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
