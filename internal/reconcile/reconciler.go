// Package reconcile finds drift between the sync store and the upstream
// catalog and feeds it back into the publish queue.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
	"github.com/imrishuroy/go-product-relay/internal/syncstore"
)

// ErrAlreadyRunning is returned when a sweep is already in progress.
var ErrAlreadyRunning = errors.New("reconcile: sweep already running")

// Mode selects how much of the catalog a run inspects.
type Mode string

const (
	// ModeFailed re-checks pending and failed records.
	ModeFailed Mode = "failed"
	// ModeFull also walks the active catalog for products never recorded.
	ModeFull Mode = "full"
)

// Catalog is the upstream source of truth.
type Catalog interface {
	FetchByID(ctx context.Context, id string) (*product.Payload, error)
	FetchAllActive(ctx context.Context, pageToken string) ([]product.Payload, string, error)
}

// Report summarizes one run.
type Report struct {
	Mode       Mode      `json:"mode"`
	Scanned    int       `json:"scanned"`
	Enqueued   int       `json:"enqueued"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Reconciler compares the store with the catalog.
type Reconciler struct {
	store      syncstore.Store
	catalog    Catalog
	normalizer *product.Normalizer
	enqueue    func(product.Event)
	clock      clockwork.Clock
	logger     *zap.Logger

	running sync.Mutex
}

// New returns a Reconciler that hands drifted products to enqueue.
func New(store syncstore.Store, catalog Catalog, normalizer *product.Normalizer, enqueue func(product.Event), clock clockwork.Clock, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		catalog:    catalog,
		normalizer: normalizer,
		enqueue:    enqueue,
		clock:      clock,
		logger:     logger.Named("reconciler"),
	}
}

// Run executes one reconciliation in the given mode. Concurrent runs are
// rejected with ErrAlreadyRunning.
func (r *Reconciler) Run(ctx context.Context, mode Mode) (Report, error) {
	if !r.running.TryLock() {
		return Report{Mode: mode}, ErrAlreadyRunning
	}
	defer r.running.Unlock()

	rep := Report{Mode: mode, StartedAt: r.clock.Now().UTC()}
	recs, err := r.store.All(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: load records: %w", err)
	}

	r.sweep(ctx, recs, &rep)

	if mode == ModeFull {
		if err := r.missing(ctx, recs, &rep); err != nil {
			rep.FinishedAt = r.clock.Now().UTC()
			r.logReport(rep, err)
			return rep, err
		}
	}

	rep.FinishedAt = r.clock.Now().UTC()
	r.logReport(rep, nil)
	return rep, nil
}

// sweep re-fetches pending and failed products and re-enqueues those still
// active. Permanent failures wait for the upstream content to change.
func (r *Reconciler) sweep(ctx context.Context, recs []syncstore.Record, rep *Report) {
	for _, rec := range recs {
		if rec.Status != syncstore.StatusPending && rec.Status != syncstore.StatusFailed {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		rep.Scanned++

		p, err := r.catalog.FetchByID(ctx, rec.ProductID)
		if err != nil {
			rep.Errors++
			r.logger.Warn("fetch failed, skipping product", zap.String("product_id", rec.ProductID), zap.Error(err))
			continue
		}
		if p == nil {
			rep.Skipped++
			r.logger.Info("product gone upstream", zap.String("product_id", rec.ProductID))
			continue
		}

		ev, err := r.normalizer.FromPayload(product.TopicUpdate, *p)
		if err != nil {
			rep.Errors++
			r.logger.Warn("upstream product invalid", zap.String("product_id", rec.ProductID), zap.Error(err))
			continue
		}
		if !ev.Publishable() {
			rep.Skipped++
			continue
		}
		if rec.Status == syncstore.StatusFailed &&
			rec.FailureKind == relayerr.KindPermanent.String() &&
			rec.ContentHash == ev.ContentHash {
			rep.Skipped++
			r.logger.Debug("permanent failure, content unchanged", zap.String("product_id", rec.ProductID))
			continue
		}

		r.enqueue(ev)
		rep.Enqueued++
	}
}

// missing walks every active catalog page and enqueues products the store
// has never seen.
func (r *Reconciler) missing(ctx context.Context, recs []syncstore.Record, rep *Report) error {
	known := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		known[rec.ProductID] = struct{}{}
	}

	token := ""
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		products, next, err := r.catalog.FetchAllActive(ctx, token)
		if err != nil {
			rep.Errors++
			return fmt.Errorf("reconcile: catalog page %d: %w", page, err)
		}

		for _, p := range products {
			rep.Scanned++
			if _, ok := known[string(p.ID)]; ok {
				continue
			}
			ev, err := r.normalizer.FromPayload(product.TopicCreate, p)
			if err != nil {
				rep.Errors++
				r.logger.Warn("upstream product invalid", zap.String("product_id", string(p.ID)), zap.Error(err))
				continue
			}
			if !ev.Publishable() {
				rep.Skipped++
				continue
			}
			known[ev.ID] = struct{}{}
			r.enqueue(ev)
			rep.Enqueued++
		}

		if next == "" {
			return nil
		}
		token = next
	}
}

func (r *Reconciler) logReport(rep Report, err error) {
	fields := []zap.Field{
		zap.String("mode", string(rep.Mode)),
		zap.Int("scanned", rep.Scanned),
		zap.Int("enqueued", rep.Enqueued),
		zap.Int("skipped", rep.Skipped),
		zap.Int("errors", rep.Errors),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	if err != nil {
		r.logger.Error("reconcile aborted", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("reconcile finished", fields...)
}
