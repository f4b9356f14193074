package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/aws"
	"github.com/imrishuroy/go-product-relay/internal/idempotency"
	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/reconcile"
	"github.com/imrishuroy/go-product-relay/internal/relay"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
	"github.com/imrishuroy/go-product-relay/internal/shopify"
	"github.com/imrishuroy/go-product-relay/internal/syncstore"
)

const secret = "shpss_test"

var body = []byte(`{"id":101,"title":"Earbuds","status":"active","images":[{"src":"https://cdn.example.com/a.jpg"}]}`)

type recordingSink struct {
	mu   sync.Mutex
	got  []Envelope
	err  error
	left int // fail this many times before succeeding; negative fails always
}

func (s *recordingSink) Accept(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left > 0 {
		s.left--
		return s.err
	}
	if s.err != nil && s.left < 0 {
		return s.err
	}
	s.got = append(s.got, env)
	return nil
}

func init() { gin.SetMode(gin.TestMode) }

func newWebhookRouter(sink Sink, dedupe idempotency.Store) *gin.Engine {
	r := gin.New()
	RegisterWebhookRoutes(r, WebhookConfig{
		Secret: secret,
		Dedupe: dedupe,
		Sink:   sink,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	})
	return r
}

func deliver(r http.Handler, path string, payload []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signed(id string) map[string]string {
	return map[string]string{
		shopify.HeaderHMAC:      shopify.SignBase64(secret, body),
		shopify.HeaderWebhookID: id,
	}
}

func TestWebhook_AcceptsSignedDelivery(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, idempotency.NewMemoryStore(time.Hour))

	w := deliver(r, "/webhook/products/update", body, signed("d-1"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.got, 1)
	env := sink.got[0]
	assert.Equal(t, "d-1", env.DeliveryID)
	assert.Equal(t, product.TopicUpdate, env.Topic)
	assert.JSONEq(t, string(body), string(env.Payload))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), env.ReceivedAt)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, nil)

	headers := signed("d-1")
	headers[shopify.HeaderHMAC] = shopify.SignBase64("other-secret", body)
	w := deliver(r, "/webhook/products/create", body, headers)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, sink.got)

	delete(headers, shopify.HeaderHMAC)
	w = deliver(r, "/webhook/products/create", body, headers)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhook_TopicFromHeader(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, nil)

	headers := signed("d-2")
	headers[shopify.HeaderTopic] = "products/delete"
	w := deliver(r, "/webhook", body, headers)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.got, 1)
	assert.Equal(t, product.TopicDelete, sink.got[0].Topic)
}

func TestWebhook_UnknownTopic(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, nil)

	w := deliver(r, "/webhook/products/paid", body, signed("d-3"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, sink.got)
}

func TestWebhook_DuplicateDeliveryAcknowledged(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, idempotency.NewMemoryStore(time.Hour))

	first := deliver(r, "/webhook/products/update", body, signed("d-4"))
	second := deliver(r, "/webhook/products/update", body, signed("d-4"))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), "duplicate")
	assert.Len(t, sink.got, 1)
}

func TestWebhook_FailedSinkReleasesDelivery(t *testing.T) {
	sink := &recordingSink{err: errors.New("queue unavailable"), left: 1}
	r := newWebhookRouter(sink, idempotency.NewMemoryStore(time.Hour))

	first := deliver(r, "/webhook/products/update", body, signed("d-5"))
	require.Equal(t, http.StatusInternalServerError, first.Code)

	// the storefront redelivers with the same id
	second := deliver(r, "/webhook/products/update", body, signed("d-5"))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, sink.got, 1)
}

func TestWebhook_MalformedPayloadIgnored(t *testing.T) {
	dedupe := idempotency.NewMemoryStore(time.Hour)
	sink := &recordingSink{err: fmt.Errorf("%w: decode payload", relayerr.ErrValidation), left: -1}
	r := newWebhookRouter(sink, dedupe)

	w := deliver(r, "/webhook/products/update", body, signed("d-6"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
	assert.Equal(t, 1, dedupe.Len())
}

func TestWebhook_GeneratesDeliveryID(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, nil)

	headers := signed("")
	delete(headers, shopify.HeaderWebhookID)
	w := deliver(r, "/webhook/products/create", body, headers)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.got, 1)
	assert.Len(t, sink.got[0].DeliveryID, 36)
}

type mockSQS struct {
	sent []*sqs.SendMessageInput
}

func (m *mockSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (m *mockSQS) DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSSink_ForwardsEnvelope(t *testing.T) {
	client := &mockSQS{}
	sink := NewSQSSink(aws.NewPublisher(client, "https://sqs.local/ingest"))

	env := Envelope{DeliveryID: "d-7", Topic: product.TopicCreate, Payload: body}
	require.NoError(t, sink.Accept(context.Background(), env))

	require.Len(t, client.sent, 1)
	msg := client.sent[0]
	assert.Equal(t, "https://sqs.local/ingest", *msg.QueueUrl)
	assert.Equal(t, "products/create", *msg.MessageAttributes[AttrTopic].StringValue)
	assert.Equal(t, "d-7", *msg.MessageAttributes[AttrDeliveryID].StringValue)

	var decoded Envelope
	require.NoError(t, json.Unmarshal([]byte(*msg.MessageBody), &decoded))
	assert.Equal(t, env.DeliveryID, decoded.DeliveryID)
	assert.JSONEq(t, string(body), string(decoded.Payload))
}

func TestSQSSink_FIFOQueueDedupesByDeliveryID(t *testing.T) {
	client := &mockSQS{}
	sink := NewSQSSink(aws.NewPublisher(client, "https://sqs.local/ingest.fifo"))

	require.NoError(t, sink.Accept(context.Background(), Envelope{DeliveryID: "d-8", Topic: product.TopicUpdate, Payload: body}))

	require.Len(t, client.sent, 1)
	require.NotNil(t, client.sent[0].MessageDeduplicationId)
	assert.Equal(t, "d-8", *client.sent[0].MessageDeduplicationId)
	assert.NotNil(t, client.sent[0].MessageGroupId)
}

type relayFunc func(topic product.Topic, raw []byte) error

func (f relayFunc) HandleDelivery(topic product.Topic, raw []byte) error { return f(topic, raw) }

func TestRelaySink_PassesTopicAndPayload(t *testing.T) {
	var gotTopic product.Topic
	var gotRaw []byte
	sink := NewRelaySink(relayFunc(func(topic product.Topic, raw []byte) error {
		gotTopic, gotRaw = topic, raw
		return nil
	}))

	require.NoError(t, sink.Accept(context.Background(), Envelope{Topic: product.TopicUpdate, Payload: body}))
	assert.Equal(t, product.TopicUpdate, gotTopic)
	assert.Equal(t, body, gotRaw)
}

type fakeStatus struct {
	records map[string]*syncstore.Record
	err     error
}

func (f *fakeStatus) Status() relay.Status {
	return relay.Status{PendingDebounce: 2, CoolingDown: 1, IntervalSeconds: 60}
}

func (f *fakeStatus) Record(_ context.Context, id string) (*syncstore.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[id], nil
}

type fakeRunner struct {
	modes []reconcile.Mode
	err   error
}

func (f *fakeRunner) Run(_ context.Context, mode reconcile.Mode) (reconcile.Report, error) {
	f.modes = append(f.modes, mode)
	return reconcile.Report{Mode: mode, Scanned: 3, Enqueued: 1}, f.err
}

func newAdminRouter(status StatusSource, runner ReconcileRunner, token string) *gin.Engine {
	r := gin.New()
	RegisterHealth(r)
	RegisterAdminRoutes(r, AdminConfig{Relay: status, Reconciler: runner, Token: token, Logger: zap.NewNop()})
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAndStatus(t *testing.T) {
	r := newAdminRouter(&fakeStatus{}, nil, "")

	w := get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(r, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var st relay.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 2, st.PendingDebounce)
	assert.Equal(t, 1, st.CoolingDown)
	assert.Equal(t, 60.0, st.IntervalSeconds)
}

func TestSyncRecordLookup(t *testing.T) {
	status := &fakeStatus{records: map[string]*syncstore.Record{
		"101": {ProductID: "101", RemotePostID: "ig-1", Status: syncstore.StatusActive},
	}}
	r := newAdminRouter(status, nil, "")

	w := get(r, "/sync/101")
	require.Equal(t, http.StatusOK, w.Code)
	var rec syncstore.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "ig-1", rec.RemotePostID)

	assert.Equal(t, http.StatusNotFound, get(r, "/sync/404").Code)

	status.err = errors.New("store down")
	assert.Equal(t, http.StatusInternalServerError, get(r, "/sync/101").Code)
}

func postReconcile(r http.Handler, payload, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(HeaderAdminToken, token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReconcileRoute(t *testing.T) {
	runner := &fakeRunner{}
	r := newAdminRouter(&fakeStatus{}, runner, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, postReconcile(r, `{"mode":"full"}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, postReconcile(r, `{"mode":"weekly"}`, "s3cret").Code)
	assert.Empty(t, runner.modes)

	w := postReconcile(r, `{"mode":"full"}`, "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	var rep reconcile.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, reconcile.ModeFull, rep.Mode)
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, []reconcile.Mode{reconcile.ModeFull}, runner.modes)
}

func TestReconcileRoute_AlreadyRunning(t *testing.T) {
	r := newAdminRouter(&fakeStatus{}, &fakeRunner{err: reconcile.ErrAlreadyRunning}, "")

	w := postReconcile(r, `{"mode":"failed"}`, "")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReconcileRoute_Disabled(t *testing.T) {
	r := newAdminRouter(&fakeStatus{}, nil, "")

	w := postReconcile(r, `{"mode":"failed"}`, "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
