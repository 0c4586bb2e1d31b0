// Package housekeeping runs background maintenance over stored sales.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"assistec/backend/internal/domain"
	"assistec/backend/internal/events"
	"assistec/backend/internal/metrics"
	"assistec/backend/internal/store"
	"assistec/backend/internal/xid"
)

const (
	DefaultQuoteRetention     = 8 * 24 * time.Hour
	defaultQuoteSweepInterval = time.Hour
	defaultCartIdle           = 4 * time.Hour
)

type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	Publisher events.Publisher
	Metrics   *metrics.SaleMetrics
	Audit     store.AuditStore
	Carts     IdleCarts
	CartIdle  time.Duration
	Now       func() time.Time
}

// IdleCarts is the registry of open checkout carts trimmed on every sweep.
type IdleCarts interface {
	EvictIdle(idle time.Duration) int
	Len() int
}

type SweeperOption func(*SweeperOptions)

func WithLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

func WithInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

func WithPublisher(publisher events.Publisher) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Publisher = publisher
	}
}

func WithMetrics(m *metrics.SaleMetrics) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Metrics = m
	}
}

// WithAuditStore makes every purge leave an audit log entry.
func WithAuditStore(audit store.AuditStore) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Audit = audit
	}
}

// WithIdleCarts makes every sweep drop carts unused for longer than idle.
func WithIdleCarts(carts IdleCarts, idle time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Carts = carts
		opts.CartIdle = idle
	}
}

func WithClock(now func() time.Time) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Now = now
	}
}

// QuoteSweeper deletes quotes nobody touched within the retention window.
type QuoteSweeper struct {
	sales     store.SaleStore
	retention time.Duration
	interval  time.Duration
	publisher events.Publisher
	metrics   *metrics.SaleMetrics
	audit     store.AuditStore
	carts     IdleCarts
	cartIdle  time.Duration
	logger    *log.Entry
	now       func() time.Time
}

func NewQuoteSweeper(sales store.SaleStore, retention time.Duration, options ...SweeperOption) *QuoteSweeper {
	opts := SweeperOptions{
		Interval: defaultQuoteSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	if retention <= 0 {
		retention = DefaultQuoteRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultQuoteSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "quote-sweeper")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.CartIdle <= 0 {
		opts.CartIdle = defaultCartIdle
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &QuoteSweeper{
		sales:     sales,
		retention: retention,
		interval:  opts.Interval,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		audit:     opts.Audit,
		carts:     opts.Carts,
		cartIdle:  opts.CartIdle,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (w *QuoteSweeper) Run(ctx context.Context) {
	if w.sales == nil {
		w.logger.Warn("quote sweeper is disabled: sale store is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *QuoteSweeper) sweep(ctx context.Context) {
	w.EvictIdleCarts()

	purged, err := w.DeleteExpired(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.WithError(err).WithField("purged", purged).Warn("quote sweep finished with failures")
		return
	}
	if purged > 0 {
		w.logger.WithField("purged", purged).Info("quote sweep completed")
	}
}

// EvictIdleCarts drops abandoned checkout carts and refreshes the open-cart
// gauge.
func (w *QuoteSweeper) EvictIdleCarts() int {
	if w.carts == nil {
		return 0
	}
	evicted := w.carts.EvictIdle(w.cartIdle)
	if evicted > 0 {
		w.logger.WithField("evicted", evicted).Info("idle carts evicted")
	}
	if w.metrics != nil {
		w.metrics.SetOpenCarts(w.carts.Len())
	}
	return evicted
}

// DeleteExpired removes every quote whose last touch is older than the
// retention window. One failed delete does not stop the others; all failures
// come back joined.
func (w *QuoteSweeper) DeleteExpired(ctx context.Context) (int, error) {
	sales, err := w.sales.ListSales(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sales: %w", err)
	}

	cutoff := w.now().Add(-w.retention)
	var (
		purged int
		errs   []error
	)
	for _, sale := range sales {
		if sale.Status != domain.SaleStatusQuote || !sale.LastTouched().Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if err := w.sales.DeleteQuote(ctx, sale.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if errors.Is(err, store.ErrConflict) {
				w.logger.WithField("quote_id", sale.ID).Debug("quote converted since listing, kept")
				continue
			}
			w.logger.WithError(err).WithField("quote_id", sale.ID).Warn("failed to delete expired quote")
			errs = append(errs, fmt.Errorf("delete quote %s: %w", sale.ID, err))
			continue
		}
		purged++
		w.afterPurge(ctx, sale)
	}

	if w.metrics != nil {
		w.metrics.RecordQuoteSweep(purged, len(errs))
	}
	return purged, errors.Join(errs...)
}

func (w *QuoteSweeper) afterPurge(ctx context.Context, quote domain.Sale) {
	now := w.now()
	event := domain.SaleEvent{
		Type:       domain.SaleEventExpired,
		SaleID:     quote.ID,
		Status:     quote.Status,
		TotalCents: quote.TotalCents,
		OccurredAt: now,
	}
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.WithError(err).WithField("quote_id", quote.ID).Warn("failed to publish quote expiry")
	}

	if w.audit == nil {
		return
	}
	if err := w.audit.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: "system",
		ActorRole:     "system",
		Action:        "quote_expired",
		EntityType:    "sale",
		EntityID:      quote.ID,
		Detail:        "last_touched=" + quote.LastTouched().Format(time.RFC3339),
		CreatedAt:     now,
	}); err != nil {
		w.logger.WithError(err).WithField("quote_id", quote.ID).Warn("failed to write audit log")
	}
}
