package meta

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/publisher"
)

// Instagram publishes to an Instagram business account.
type Instagram struct {
	c *Client
}

var _ publisher.Provider = (*Instagram)(nil)

// NewInstagram returns the primary channel over c.
func NewInstagram(c *Client) *Instagram { return &Instagram{c: c} }

// UploadMedia creates an image container. Group children are flagged at
// creation and carry no caption.
func (ig *Instagram) UploadMedia(ctx context.Context, spec publisher.MediaSpec) (string, error) {
	params := url.Values{}
	params.Set("image_url", spec.ImageURL)
	if spec.GroupChild {
		params.Set("is_carousel_item", "true")
	} else if spec.Caption != "" {
		params.Set("caption", spec.Caption)
	}

	var out idResponse
	if err := ig.c.do(ctx, "upload_media", http.MethodPost, ig.c.cfg.IGUserID+"/media", params, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("meta: upload_media returned no id")
	}
	ig.c.logger.Debug("media created", zap.String("media_id", out.ID), zap.Bool("group_child", spec.GroupChild))
	return out.ID, nil
}

// PollMediaStatus reads the container's status_code.
func (ig *Instagram) PollMediaStatus(ctx context.Context, mediaID string) (publisher.MediaStatus, error) {
	params := url.Values{}
	params.Set("fields", "status_code")

	var out struct {
		StatusCode string `json:"status_code"`
	}
	if err := ig.c.do(ctx, "poll_media", http.MethodGet, mediaID, params, &out); err != nil {
		return publisher.MediaPending, err
	}
	switch strings.ToUpper(out.StatusCode) {
	case "FINISHED", "PUBLISHED":
		return publisher.MediaReady, nil
	case "ERROR", "EXPIRED":
		return publisher.MediaFailed, nil
	default:
		return publisher.MediaPending, nil
	}
}

// CreateGroupContainer creates a CAROUSEL container. The caption for a
// carousel is only read from this container.
func (ig *Instagram) CreateGroupContainer(ctx context.Context, childIDs []string, caption string) (string, error) {
	params := url.Values{}
	params.Set("media_type", "CAROUSEL")
	params.Set("children", strings.Join(childIDs, ","))
	if caption != "" {
		params.Set("caption", caption)
	}

	var out idResponse
	if err := ig.c.do(ctx, "create_group_container", http.MethodPost, ig.c.cfg.IGUserID+"/media", params, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("meta: create_group_container returned no id")
	}
	return out.ID, nil
}

// Publish publishes a ready container and returns the permanent media id.
func (ig *Instagram) Publish(ctx context.Context, containerID string) (string, error) {
	params := url.Values{}
	params.Set("creation_id", containerID)

	var out idResponse
	if err := ig.c.do(ctx, "publish", http.MethodPost, ig.c.cfg.IGUserID+"/media_publish", params, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("meta: publish returned no id")
	}
	ig.c.logger.Info("instagram post published", zap.String("post_id", out.ID))
	return out.ID, nil
}

// UpdateCaption edits the caption of a published post.
func (ig *Instagram) UpdateCaption(ctx context.Context, postID, caption string) error {
	params := url.Values{}
	params.Set("caption", caption)
	return ig.c.do(ctx, "update_caption", http.MethodPost, postID, params, nil)
}

// DeleteOrDeactivate removes a published post.
func (ig *Instagram) DeleteOrDeactivate(ctx context.Context, postID string) error {
	return ig.c.do(ctx, "delete_post", http.MethodDelete, postID, nil, nil)
}
