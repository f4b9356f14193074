package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"id":1}`)
	sig := SignBase64("s3cret", body)

	assert.True(t, VerifyHMAC("s3cret", body, sig))
	assert.False(t, VerifyHMAC("other", body, sig))
	assert.False(t, VerifyHMAC("s3cret", []byte(`{"id":2}`), sig))
	assert.False(t, VerifyHMAC("s3cret", body, ""))
	assert.False(t, VerifyHMAC("s3cret", body, "%%%not-base64"))
	assert.False(t, VerifyHMAC("", body, sig))
}

func newTestCatalog(t *testing.T, h http.HandlerFunc) *Catalog {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewCatalog(Config{ShopURL: srv.URL, AccessToken: "shpat", APIVersion: "2024-10"})
	require.NoError(t, err)
	return c
}

func TestCatalog_FetchByID(t *testing.T) {
	c := newTestCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shpat", r.Header.Get("X-Shopify-Access-Token"))
		switch r.URL.Path {
		case "/admin/api/2024-10/products/42.json":
			fmt.Fprint(w, `{"product":{"id":42,"title":"Lamp","status":"active","images":[{"src":"https://cdn/a.jpg"}]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errors":"Not Found"}`)
		}
	})

	p, err := c.FetchByID(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "42", string(p.ID))
	assert.Equal(t, "Lamp", p.Title)

	missing, err := c.FetchByID(context.Background(), "7")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = c.FetchByID(context.Background(), "../x")
	assert.ErrorIs(t, err, relayerr.ErrValidation)
}

func TestCatalog_FetchAllActivePaginates(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("page_info") {
		case "":
			assert.Equal(t, "active", q.Get("status"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/admin/api/2024-10/products.json?limit=250&page_info=abc>; rel="next"`, srvURL))
			fmt.Fprint(w, `{"products":[{"id":1,"title":"a","status":"active"},{"id":2,"title":"b","status":"active"}]}`)
		case "abc":
			assert.Empty(t, q.Get("status"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/admin/api/2024-10/products.json?limit=250&page_info=zzz>; rel="previous"`, srvURL))
			fmt.Fprint(w, `{"products":[{"id":3,"title":"c","status":"active"}]}`)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c, err := NewCatalog(Config{ShopURL: srv.URL, AccessToken: "shpat", APIVersion: "2024-10"})
	require.NoError(t, err)

	page, next, err := c.FetchAllActive(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, "abc", next)

	page, next, err = c.FetchAllActive(context.Background(), next)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)
}

func TestCatalog_ErrorKinds(t *testing.T) {
	status := http.StatusTooManyRequests
	c := newTestCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	_, _, err := c.FetchAllActive(context.Background(), "")
	assert.True(t, relayerr.IsRateLimited(err))

	status = http.StatusBadGateway
	_, _, err = c.FetchAllActive(context.Background(), "")
	assert.True(t, relayerr.IsTransient(err))
	assert.False(t, relayerr.IsRateLimited(err))

	status = http.StatusForbidden
	_, err = c.FetchByID(context.Background(), "1")
	assert.True(t, relayerr.IsPermanent(err))
}

func TestNextPageInfo(t *testing.T) {
	link := `<https://s/admin/api/2024-10/products.json?page_info=prev1&limit=250>; rel="previous", <https://s/admin/api/2024-10/products.json?page_info=next1&limit=250>; rel="next"`
	assert.Equal(t, "next1", nextPageInfo(link))
	assert.Empty(t, nextPageInfo(""))
}
