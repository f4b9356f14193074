// Package product turns raw storefront product payloads into canonical events.
package product

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the storefront lifecycle state of a product.
type Status string

const (
	StatusActive   Status = "active"
	StatusDraft    Status = "draft"
	StatusArchived Status = "archived"
)

// Topic names the upstream webhook topic an event arrived on.
type Topic string

const (
	TopicCreate Topic = "products/create"
	TopicUpdate Topic = "products/update"
	TopicDelete Topic = "products/delete"
)

// ParseTopic accepts both "products/create" and the bare "create" form.
func ParseTopic(s string) (Topic, bool) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "products/") {
	case "create":
		return TopicCreate, true
	case "update":
		return TopicUpdate, true
	case "delete":
		return TopicDelete, true
	}
	return "", false
}

// Event is the canonical, immutable form of one product lifecycle change.
type Event struct {
	ID              string
	Topic           Topic
	Title           string
	DescriptionHTML string
	Description     string // cleaned and capped
	Handle          string
	StoreURL        string
	ImageURLs       []string
	Status          Status
	ContentHash     string
}

// Publishable reports whether the event should be published rather than retired.
func (e Event) Publishable() bool {
	return e.Topic != TopicDelete && e.Status == StatusActive
}

// ID accepts both JSON numbers and strings.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(str))
		return nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
	}
	*id = ID(s)
	return nil
}

// Image is one storefront product image.
type Image struct {
	Src string `json:"src"`
}

// Payload is the subset of the storefront product document the relay reads.
type Payload struct {
	ID             ID      `json:"id" validate:"required"`
	Title          string  `json:"title" validate:"required"`
	BodyHTML       string  `json:"body_html"`
	Handle         string  `json:"handle"`
	OnlineStoreURL string  `json:"online_store_url"`
	Status         string  `json:"status" validate:"required,oneof=active draft archived"`
	Images         []Image `json:"images" validate:"dive"`
}
