package meta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/imrishuroy/go-product-relay/internal/publisher"
)

// Page mirrors posts onto a Facebook page feed.
type Page struct {
	c *Client
}

var _ publisher.SecondaryChannel = (*Page)(nil)

// NewPage returns the mirror channel, or an error if no page is configured.
func NewPage(c *Client) (*Page, error) {
	if c.cfg.PageID == "" {
		return nil, errors.New("meta: page id is required for mirroring")
	}
	return &Page{c: c}, nil
}

// Mirror creates a feed post referencing already uploaded media.
func (p *Page) Mirror(ctx context.Context, mediaIDs []string, caption string) (string, error) {
	params := url.Values{}
	params.Set("message", caption)
	for i, id := range mediaIDs {
		params.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":%q}`, id))
	}

	var out idResponse
	if err := p.c.do(ctx, "mirror_post", http.MethodPost, p.c.cfg.PageID+"/feed", params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// UpdateCaption edits the message of a feed post.
func (p *Page) UpdateCaption(ctx context.Context, postID, caption string) error {
	params := url.Values{}
	params.Set("message", caption)
	return p.c.do(ctx, "mirror_update", http.MethodPost, postID, params, nil)
}

// Delete removes a feed post.
func (p *Page) Delete(ctx context.Context, postID string) error {
	return p.c.do(ctx, "mirror_delete", http.MethodDelete, postID, nil, nil)
}
