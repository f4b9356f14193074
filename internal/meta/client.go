// Package meta talks to the Meta Graph API: Instagram business publishing
// as the primary channel and a Facebook page feed as the mirror.
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

// maxResponseSize caps Graph API response bodies (1MB).
const maxResponseSize = 1 << 20

// Config addresses one Instagram account and, optionally, one page.
type Config struct {
	GraphURL    string // e.g. https://graph.facebook.com/v20.0
	IGUserID    string
	PageID      string
	AccessToken string
	Timeout     time.Duration
}

// Validate reports missing settings.
func (c Config) Validate() error {
	switch {
	case c.GraphURL == "":
		return errors.New("meta: graph url is required")
	case c.IGUserID == "":
		return errors.New("meta: instagram user id is required")
	case c.AccessToken == "":
		return errors.New("meta: access token is required")
	}
	return nil
}

// Client is a thin Graph API caller shared by both channels.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("meta"),
	}, nil
}

type graphError struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		IsTransient  bool   `json:"is_transient"`
		UserMessage  string `json:"error_user_msg"`
	} `json:"error"`
}

type idResponse struct {
	ID string `json:"id"`
}

// do sends one request and decodes a successful body into out.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.cfg.AccessToken)

	endpoint := c.cfg.GraphURL + "/" + strings.TrimLeft(path, "/")
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		endpoint += "?" + params.Encode()
	default:
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("meta: failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return relayerr.Transient(op, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return relayerr.Transient(op, "read response: "+err.Error())
	}

	if resp.StatusCode >= 400 {
		return classify(op, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return relayerr.Permanent(op, "invalid response: "+err.Error())
	}
	return nil
}

// classify maps a Graph error response onto the relay error taxonomy.
func classify(op string, status int, raw []byte) error {
	var ge graphError
	_ = json.Unmarshal(raw, &ge)

	pe := &relayerr.ProviderError{Op: op, Status: status, Message: http.StatusText(status)}
	subcode, transient := 0, false
	if ge.Error != nil {
		pe.Code = ge.Error.Code
		pe.Message = ge.Error.Message
		subcode = ge.Error.ErrorSubcode
		transient = ge.Error.IsTransient
	}

	switch {
	case relayerr.MatchesRateLimit(status, pe.Code, subcode, pe.Message):
		pe.Kind = relayerr.KindRateLimited
	case status >= 500 || transient:
		pe.Kind = relayerr.KindTransient
	default:
		pe.Kind = relayerr.KindPermanent
	}
	return pe
}
