package product

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

// Options bounds the normalized content.
type Options struct {
	DescriptionLimit int    // rune cap on the cleaned description
	MaxImages        int    // platform maximum per post
	ShopURL          string // used to build product links from handles
}

// Normalizer converts raw payloads into Events.
type Normalizer struct {
	opts     Options
	validate *validatorv10.Validate
}

// NewNormalizer returns a Normalizer using v for payload validation.
func NewNormalizer(opts Options, v *validatorv10.Validate) *Normalizer {
	if opts.DescriptionLimit <= 0 {
		opts.DescriptionLimit = 1900
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = 10
	}
	if v == nil {
		v = validatorv10.New()
	}
	return &Normalizer{opts: opts, validate: v}
}

// Normalize decodes raw for the given topic. Malformed payloads return an
// error wrapping relayerr.ErrValidation; callers log and drop them.
func (n *Normalizer) Normalize(topic Topic, raw []byte) (Event, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, fmt.Errorf("%w: decode payload: %v", relayerr.ErrValidation, err)
	}
	return n.FromPayload(topic, p)
}

// FromPayload builds an Event from an already decoded payload.
func (n *Normalizer) FromPayload(topic Topic, p Payload) (Event, error) {
	if topic == TopicDelete {
		// delete payloads only carry the id
		if err := n.validate.Var(string(p.ID), "required"); err != nil {
			return Event{}, fmt.Errorf("%w: delete without id", relayerr.ErrValidation)
		}
		return Event{ID: string(p.ID), Topic: topic}, nil
	}
	if err := n.validate.Struct(p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", relayerr.ErrValidation, err)
	}

	ev := Event{
		ID:              string(p.ID),
		Topic:           topic,
		Title:           strings.TrimSpace(p.Title),
		DescriptionHTML: p.BodyHTML,
		Description:     CleanText(p.BodyHTML, n.opts.DescriptionLimit),
		Handle:          p.Handle,
		StoreURL:        n.storeURL(p),
		ImageURLs:       imageURLs(p.Images, n.opts.MaxImages),
		Status:          Status(p.Status),
	}
	ev.ContentHash = ContentHash(ev.Title, ev.Description, ev.ImageURLs)
	return ev, nil
}

func (n *Normalizer) storeURL(p Payload) string {
	if p.OnlineStoreURL != "" {
		return p.OnlineStoreURL
	}
	if p.Handle == "" || n.opts.ShopURL == "" {
		return ""
	}
	shop := strings.TrimSuffix(n.opts.ShopURL, "/")
	if !strings.Contains(shop, "://") {
		shop = "https://" + shop
	}
	return shop + "/products/" + p.Handle
}

// imageURLs de-duplicates sources in order and caps the result.
func imageURLs(images []Image, max int) []string {
	seen := make(map[string]struct{}, len(images))
	out := make([]string, 0, len(images))
	for _, img := range images {
		src := strings.TrimSpace(img.Src)
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
		if len(out) == max {
			break
		}
	}
	return out
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanText strips markup, collapses whitespace, trims and caps to limit runes.
func CleanText(s string, limit int) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "*", "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if limit > 0 {
		if r := []rune(s); len(r) > limit {
			s = strings.TrimSpace(string(r[:limit]))
		}
	}
	return s
}

// ContentHash digests the fields that determine post content.
func ContentHash(title, description string, imageURLs []string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(description))
	h.Write([]byte{0})
	for _, u := range imageURLs {
		h.Write([]byte(u))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
