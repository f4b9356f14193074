package publisher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/queue"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
	"github.com/imrishuroy/go-product-relay/internal/syncstore"
)

// Retire removes the remote posts of a deleted or deactivated product.
// Deleted products lose their record; drafts and archived products keep an
// inactive record with the post ids cleared.
func (p *Publisher) Retire(ctx context.Context, ev product.Event) (queue.Outcome, error) {
	rec, err := p.store.Get(ctx, ev.ID)
	if err != nil {
		return queue.OutcomeFailed, fmt.Errorf("retire %s: load record: %w", ev.ID, err)
	}
	if rec == nil {
		p.logger.Debug("nothing to retire", zap.String("product_id", ev.ID))
		return queue.OutcomeSkipped, nil
	}

	if rec.RemotePostID != "" {
		err := p.provider.DeleteOrDeactivate(ctx, rec.RemotePostID)
		switch {
		case err == nil:
		case relayerr.IsPermanent(err):
			// usually already removed by hand
			p.logger.Warn("remote post not deletable, forgetting it",
				zap.String("product_id", ev.ID),
				zap.String("post_id", rec.RemotePostID),
				zap.Error(err),
			)
		default:
			next := *rec
			next.LastError = err.Error()
			next.UpdatedAt = p.clock.Now().UTC()
			if perr := p.store.Put(ctx, next); perr != nil {
				p.logger.Error("failed to record retire failure", zap.String("product_id", ev.ID), zap.Error(perr))
			}
			return queue.OutcomeFailed, fmt.Errorf("retire %s: delete post %s: %w", ev.ID, rec.RemotePostID, err)
		}
	}
	if rec.SecondaryPostID != "" {
		p.bestEffortDelete(ctx, ev.ID, rec.SecondaryPostID)
	}

	if ev.Topic == product.TopicDelete {
		if err := p.store.Delete(ctx, ev.ID); err != nil {
			return queue.OutcomeFailed, fmt.Errorf("retire %s: delete record: %w", ev.ID, err)
		}
		p.logger.Info("product deleted, record removed", zap.String("product_id", ev.ID))
		return queue.OutcomeRetired, nil
	}

	next := syncstore.Record{
		ProductID: ev.ID,
		Status:    syncstore.StatusInactive,
		Title:     rec.Title,
		Attempts:  rec.Attempts,
		UpdatedAt: p.clock.Now().UTC(),
	}
	if err := p.store.Put(ctx, next); err != nil {
		return queue.OutcomeFailed, fmt.Errorf("retire %s: save record: %w", ev.ID, err)
	}
	p.logger.Info("product deactivated",
		zap.String("product_id", ev.ID),
		zap.String("status", string(ev.Status)),
	)
	return queue.OutcomeRetired, nil
}

func (p *Publisher) bestEffortDelete(ctx context.Context, productID, postID string) {
	if p.secondary == nil {
		return
	}
	if err := p.secondary.Delete(ctx, postID); err != nil {
		p.logger.Warn("secondary delete failed",
			zap.String("product_id", productID),
			zap.String("post_id", postID),
			zap.Error(err),
		)
	}
}
