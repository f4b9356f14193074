// Package publisher drives the remote upload, poll, container and publish
// protocol for one product and records the result in the sync store.
//
// Media created during an attempt that later aborts is not cleaned up; the
// provider expires unpublished containers on its own.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/queue"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
	"github.com/imrishuroy/go-product-relay/internal/syncstore"
)

// Options bounds the publish protocol.
type Options struct {
	MaxImages    int
	PollAttempts int
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Publisher implements queue.Processor.
type Publisher struct {
	provider  Provider
	secondary SecondaryChannel // nil when mirroring is disabled
	captioner Captioner
	store     syncstore.Store
	clock     clockwork.Clock
	opts      Options
	logger    *zap.Logger
}

// New builds a Publisher. secondary may be nil.
func New(provider Provider, secondary SecondaryChannel, captioner Captioner, store syncstore.Store, clock clockwork.Clock, opts Options, logger *zap.Logger) *Publisher {
	if opts.MaxImages <= 0 {
		opts.MaxImages = 10
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 1
	}
	return &Publisher{
		provider:  provider,
		secondary: secondary,
		captioner: captioner,
		store:     store,
		clock:     clock,
		opts:      opts,
		logger:    logger.Named("publisher"),
	}
}

// Process implements queue.Processor.
func (p *Publisher) Process(ctx context.Context, item queue.Item) (queue.Outcome, error) {
	if item.Action == queue.ActionRetire {
		return p.Retire(ctx, item.Event)
	}
	return p.Publish(ctx, item.Event)
}

// Publish brings the remote post for ev in line with its content.
func (p *Publisher) Publish(ctx context.Context, ev product.Event) (queue.Outcome, error) {
	if len(ev.ImageURLs) == 0 {
		p.logger.Warn("product has no images, skipping", zap.String("product_id", ev.ID))
		return queue.OutcomeFailed, fmt.Errorf("publish %s: %w", ev.ID, relayerr.ErrNoImages)
	}

	rec, err := p.store.Get(ctx, ev.ID)
	if err != nil {
		return queue.OutcomeFailed, fmt.Errorf("publish %s: load record: %w", ev.ID, err)
	}
	if rec.Published(ev.ContentHash) {
		p.logger.Info("content unchanged, skipping", zap.String("product_id", ev.ID), zap.String("post_id", rec.RemotePostID))
		return queue.OutcomeSkipped, nil
	}

	caption := p.captioner.Caption(ctx, ev)

	if rec != nil && rec.RemotePostID != "" {
		err := p.updateInPlace(ctx, ev, rec, caption)
		switch {
		case err == nil:
			return queue.OutcomeUpdated, nil
		case relayerr.IsPermanent(err):
			p.logger.Warn("in-place update rejected, publishing fresh",
				zap.String("product_id", ev.ID),
				zap.String("post_id", rec.RemotePostID),
				zap.Error(err),
			)
		default:
			return queue.OutcomeFailed, p.fail(ctx, ev, rec, err)
		}
	}

	postID, mediaIDs, err := p.publishFresh(ctx, ev, caption)
	if err != nil {
		return queue.OutcomeFailed, p.fail(ctx, ev, rec, err)
	}

	next := syncstore.Record{
		ProductID:    ev.ID,
		RemotePostID: postID,
		ContentHash:  ev.ContentHash,
		Status:       syncstore.StatusActive,
		Title:        ev.Title,
		Attempts:     attempts(rec) + 1,
		UpdatedAt:    p.clock.Now().UTC(),
	}
	if p.secondary != nil {
		if rec != nil && rec.SecondaryPostID != "" {
			p.bestEffortDelete(ctx, ev.ID, rec.SecondaryPostID)
		}
		secondaryID, err := p.secondary.Mirror(ctx, mediaIDs, caption)
		if err != nil {
			p.logger.Warn("secondary mirror failed", zap.String("product_id", ev.ID), zap.Error(err))
		} else {
			next.SecondaryPostID = secondaryID
		}
	}

	if err := p.store.Put(ctx, next); err != nil {
		return queue.OutcomeFailed, fmt.Errorf("publish %s: post %s created but record not saved: %w", ev.ID, postID, err)
	}
	p.logger.Info("published",
		zap.String("product_id", ev.ID),
		zap.String("post_id", postID),
		zap.Int("images", len(mediaIDs)),
	)
	return queue.OutcomePublished, nil
}

func (p *Publisher) updateInPlace(ctx context.Context, ev product.Event, rec *syncstore.Record, caption string) error {
	if err := p.provider.UpdateCaption(ctx, rec.RemotePostID, caption); err != nil {
		return fmt.Errorf("update caption %s: %w", rec.RemotePostID, err)
	}
	if p.secondary != nil && rec.SecondaryPostID != "" {
		if err := p.secondary.UpdateCaption(ctx, rec.SecondaryPostID, caption); err != nil {
			p.logger.Warn("secondary caption update failed", zap.String("product_id", ev.ID), zap.Error(err))
		}
	}

	next := *rec
	next.ContentHash = ev.ContentHash
	next.Status = syncstore.StatusActive
	next.LastError = ""
	next.FailureKind = ""
	next.Title = ev.Title
	next.Attempts = rec.Attempts + 1
	next.UpdatedAt = p.clock.Now().UTC()
	if err := p.store.Put(ctx, next); err != nil {
		return fmt.Errorf("caption updated but record not saved: %w", err)
	}
	p.logger.Info("caption updated in place", zap.String("product_id", ev.ID), zap.String("post_id", rec.RemotePostID))
	return nil
}

// publishFresh uploads media, builds the container and publishes it,
// returning the post id and the media ids it used.
func (p *Publisher) publishFresh(ctx context.Context, ev product.Event, caption string) (string, []string, error) {
	urls := ev.ImageURLs
	if len(urls) > p.opts.MaxImages {
		urls = urls[:p.opts.MaxImages]
	}

	var (
		plan Plan
		err  error
	)
	if len(urls) == 1 {
		plan, err = p.planSingle(ctx, urls[0], caption)
	} else {
		plan, err = p.planGroup(ctx, urls)
	}
	if err != nil {
		return "", nil, err
	}

	var postID string
	switch pl := plan.(type) {
	case Single:
		postID, err = p.publishSingle(ctx, pl)
	case Group:
		postID, err = p.publishGroup(ctx, pl, caption)
	default:
		err = fmt.Errorf("unknown plan %T", plan)
	}
	if err != nil {
		return "", nil, err
	}
	return postID, plan.mediaIDs(), nil
}

// planSingle creates the stand-alone media with its caption.
func (p *Publisher) planSingle(ctx context.Context, url, caption string) (Plan, error) {
	id, err := p.provider.UploadMedia(ctx, MediaSpec{ImageURL: url, Caption: caption})
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	if err := p.waitReady(ctx, id); err != nil {
		return nil, err
	}
	return Single{MediaID: id}, nil
}

// planGroup creates uncaptioned group children.
func (p *Publisher) planGroup(ctx context.Context, urls []string) (Plan, error) {
	children := make([]string, 0, len(urls))
	for _, url := range urls {
		id, err := p.provider.UploadMedia(ctx, MediaSpec{ImageURL: url, GroupChild: true})
		if err != nil {
			return nil, fmt.Errorf("upload group child %d: %w", len(children), err)
		}
		if err := p.waitReady(ctx, id); err != nil {
			return nil, err
		}
		children = append(children, id)
	}
	return Group{ChildIDs: children}, nil
}

func (p *Publisher) publishSingle(ctx context.Context, plan Single) (string, error) {
	postID, err := p.provider.Publish(ctx, plan.MediaID)
	if err != nil {
		return "", fmt.Errorf("publish media %s: %w", plan.MediaID, err)
	}
	return postID, nil
}

// publishGroup attaches the caption to the group container, the only place
// the provider reads it for carousels.
func (p *Publisher) publishGroup(ctx context.Context, plan Group, caption string) (string, error) {
	containerID, err := p.provider.CreateGroupContainer(ctx, plan.ChildIDs, caption)
	if err != nil {
		return "", fmt.Errorf("create group container: %w", err)
	}
	if err := p.waitReady(ctx, containerID); err != nil {
		return "", err
	}
	postID, err := p.provider.Publish(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("publish container %s: %w", containerID, err)
	}
	return postID, nil
}

// waitReady polls a media resource until it is usable, bounded by both the
// attempt count and the total timeout.
func (p *Publisher) waitReady(ctx context.Context, mediaID string) error {
	deadline := p.clock.Now().Add(p.opts.PollTimeout)
	for attempt := 1; ; attempt++ {
		status, err := p.provider.PollMediaStatus(ctx, mediaID)
		if err != nil {
			return fmt.Errorf("poll media %s: %w", mediaID, err)
		}
		switch status {
		case MediaReady:
			return nil
		case MediaFailed:
			return fmt.Errorf("media %s: %w", mediaID, relayerr.Permanent("poll_media", "media processing failed"))
		}

		remaining := deadline.Sub(p.clock.Now())
		if attempt >= p.opts.PollAttempts || (p.opts.PollTimeout > 0 && remaining <= 0) {
			return fmt.Errorf("media %s after %d polls: %w", mediaID, attempt, relayerr.ErrMediaTimeout)
		}
		wait := p.opts.PollInterval
		if p.opts.PollTimeout > 0 && remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("poll media %s: %w", mediaID, ctx.Err())
		case <-p.clock.After(wait):
		}
	}
}

// fail stores a terminal record for a failed attempt and returns cause.
// Rate-limited attempts stay pending; prior post ids are kept so a later
// attempt can still update in place.
func (p *Publisher) fail(ctx context.Context, ev product.Event, rec *syncstore.Record, cause error) error {
	next := syncstore.Record{ProductID: ev.ID}
	if rec != nil {
		next = *rec
	}
	next.ContentHash = ev.ContentHash
	next.Title = ev.Title
	next.LastError = cause.Error()
	next.Attempts = attempts(rec) + 1
	next.UpdatedAt = p.clock.Now().UTC()
	if relayerr.IsRateLimited(cause) {
		next.Status = syncstore.StatusPending
	} else {
		next.Status = syncstore.StatusFailed
	}
	next.FailureKind = failureKind(cause)

	if err := p.store.Put(ctx, next); err != nil {
		p.logger.Error("failed to record failure",
			zap.String("product_id", ev.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return errors.Join(cause, err)
	}
	return fmt.Errorf("publish %s: %w", ev.ID, cause)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, relayerr.ErrMediaTimeout):
		return "media_timeout"
	case relayerr.IsRateLimited(err), relayerr.IsPermanent(err), relayerr.IsTransient(err):
		return relayerr.KindOf(err).String()
	}
	return "internal"
}

func attempts(rec *syncstore.Record) int {
	if rec == nil {
		return 0
	}
	return rec.Attempts
}
