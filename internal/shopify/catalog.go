// Package shopify reads the product catalog from the Shopify Admin REST API
// and verifies webhook signatures.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

// maxResponseSize caps catalog responses (10MB).
const maxResponseSize = 10 * 1024 * 1024

// pageLimit is the largest page the Admin API returns.
const pageLimit = 250

// Config addresses one shop.
type Config struct {
	ShopURL     string // my-shop.myshopify.com
	AccessToken string
	APIVersion  string
	Timeout     time.Duration
}

// Catalog fetches products by id or page by page.
type Catalog struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewCatalog returns a Catalog for cfg.
func NewCatalog(cfg Config) (*Catalog, error) {
	if cfg.ShopURL == "" || cfg.AccessToken == "" {
		return nil, errors.New("shopify: shop url and access token are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-10"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	shop := strings.TrimRight(cfg.ShopURL, "/")
	if !strings.Contains(shop, "://") {
		shop = "https://" + shop
	}
	return &Catalog{
		baseURL:    shop + "/admin/api/" + cfg.APIVersion,
		token:      cfg.AccessToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// FetchByID returns the product, or (nil, nil) when it no longer exists.
func (c *Catalog) FetchByID(ctx context.Context, id string) (*product.Payload, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: product id %q", relayerr.ErrValidation, id)
	}
	var out struct {
		Product *product.Payload `json:"product"`
	}
	_, status, err := c.get(ctx, "fetch_product", "/products/"+id+".json", nil, &out)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out.Product, nil
}

// FetchAllActive returns one page of active products and the token for the
// next page, empty on the last page.
func (c *Catalog) FetchAllActive(ctx context.Context, pageToken string) ([]product.Payload, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageLimit))
	if pageToken != "" {
		// page_info requests must not repeat the original filters
		q.Set("page_info", pageToken)
	} else {
		q.Set("status", "active")
	}

	var out struct {
		Products []product.Payload `json:"products"`
	}
	header, _, err := c.get(ctx, "list_products", "/products.json", q, &out)
	if err != nil {
		return nil, "", err
	}
	return out.Products, nextPageInfo(header.Get("Link")), nil
}

func (c *Catalog) get(ctx context.Context, op, path string, q url.Values, out any) (http.Header, int, error) {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("shopify: failed to create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, relayerr.Transient(op, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, relayerr.Transient(op, "read response: "+err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, &relayerr.ProviderError{Op: op, Status: resp.StatusCode, Message: "throttled", Kind: relayerr.KindRateLimited}
	case resp.StatusCode >= 500:
		return nil, resp.StatusCode, &relayerr.ProviderError{Op: op, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Kind: relayerr.KindTransient}
	case resp.StatusCode >= 400:
		return nil, resp.StatusCode, &relayerr.ProviderError{Op: op, Status: resp.StatusCode, Message: string(body), Kind: relayerr.KindPermanent}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, resp.StatusCode, relayerr.Permanent(op, "invalid response: "+err.Error())
	}
	return resp.Header, resp.StatusCode, nil
}

var linkNext = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPageInfo extracts page_info from a Link header's rel="next" entry.
func nextPageInfo(link string) string {
	m := linkNext.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("page_info")
}
