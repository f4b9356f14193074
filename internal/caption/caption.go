// Package caption renders post captions: a fixed template around the
// product text plus generated hashtags with a static fallback.
package caption

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/product"
)

// Generator produces hashtags for a product.
type Generator interface {
	Generate(ctx context.Context, title, description string) (string, error)
}

// DefaultFallbackHashtags is used when no generator is configured or it fails.
const DefaultFallbackHashtags = "#eSelect #عمان #الكترونيات #تسوق_الكتروني"

// DefaultCallToAction precedes the product link.
const DefaultCallToAction = "🔗 احصل عليه الآن من متجر eSelect:"

// Options configures the template.
type Options struct {
	CallToAction     string
	FallbackHashtags string
	GenerateTimeout  time.Duration
}

// Builder implements publisher.Captioner.
type Builder struct {
	gen    Generator // may be nil
	opts   Options
	logger *zap.Logger
}

// NewBuilder returns a Builder. gen may be nil to always use the fallback.
func NewBuilder(gen Generator, opts Options, logger *zap.Logger) *Builder {
	if opts.CallToAction == "" {
		opts.CallToAction = DefaultCallToAction
	}
	if opts.FallbackHashtags == "" {
		opts.FallbackHashtags = DefaultFallbackHashtags
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 20 * time.Second
	}
	return &Builder{gen: gen, opts: opts, logger: logger.Named("caption")}
}

// Caption renders title, description, call to action, link and hashtags.
func (b *Builder) Caption(ctx context.Context, ev product.Event) string {
	return Render(ev, b.opts.CallToAction, b.hashtags(ctx, ev))
}

func (b *Builder) hashtags(ctx context.Context, ev product.Event) string {
	if b.gen == nil {
		return b.opts.FallbackHashtags
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.GenerateTimeout)
	defer cancel()

	tags, err := b.gen.Generate(ctx, ev.Title, ev.Description)
	if err != nil {
		b.logger.Warn("hashtag generation failed, using fallback", zap.String("product_id", ev.ID), zap.Error(err))
		return b.opts.FallbackHashtags
	}
	tags = strings.TrimSpace(tags)
	if tags == "" {
		return b.opts.FallbackHashtags
	}
	return tags
}

// Render is the deterministic caption template.
func Render(ev product.Event, callToAction, hashtags string) string {
	parts := []string{ev.Title}
	if ev.Description != "" {
		parts = append(parts, ev.Description)
	}
	link := callToAction
	if ev.StoreURL != "" {
		link = strings.TrimSpace(link + "\n" + ev.StoreURL)
	}
	if link != "" {
		parts = append(parts, link)
	}
	if hashtags != "" {
		parts = append(parts, hashtags)
	}
	return strings.Join(parts, "\n\n")
}
