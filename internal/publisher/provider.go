package publisher

import (
	"context"

	"github.com/imrishuroy/go-product-relay/internal/product"
)

// MediaStatus is the ingestion state of an uploaded media resource.
type MediaStatus int

const (
	MediaPending MediaStatus = iota
	MediaReady
	MediaFailed
)

func (s MediaStatus) String() string {
	switch s {
	case MediaReady:
		return "ready"
	case MediaFailed:
		return "failed"
	default:
		return "pending"
	}
}

// MediaSpec describes one media resource to create. A resource created
// without GroupChild cannot later be attached to a group container.
type MediaSpec struct {
	ImageURL   string
	GroupChild bool
	Caption    string // only honoured for stand-alone media
}

// Provider is the rate-limited primary publishing API. Errors are expected
// to carry a relayerr kind so callers can tell rate limits apart.
type Provider interface {
	UploadMedia(ctx context.Context, spec MediaSpec) (string, error)
	PollMediaStatus(ctx context.Context, mediaID string) (MediaStatus, error)
	CreateGroupContainer(ctx context.Context, childIDs []string, caption string) (string, error)
	Publish(ctx context.Context, containerID string) (string, error)
	UpdateCaption(ctx context.Context, postID, caption string) error
	DeleteOrDeactivate(ctx context.Context, postID string) error
}

// SecondaryChannel mirrors published posts elsewhere on a best-effort basis.
type SecondaryChannel interface {
	Mirror(ctx context.Context, mediaIDs []string, caption string) (string, error)
	UpdateCaption(ctx context.Context, postID, caption string) error
	Delete(ctx context.Context, postID string) error
}

// Captioner renders the post caption for an event. It never fails; a
// deterministic fallback is used when generation is unavailable.
type Captioner interface {
	Caption(ctx context.Context, ev product.Event) string
}

// Plan is the post shape, decided once before any container is created.
type Plan interface {
	mediaIDs() []string
}

// Single is a one-image post; the media container doubles as the post container.
type Single struct {
	MediaID string
}

func (s Single) mediaIDs() []string { return []string{s.MediaID} }

// Group is a multi-image carousel built from child media.
type Group struct {
	ChildIDs []string
}

func (g Group) mediaIDs() []string { return g.ChildIDs }
