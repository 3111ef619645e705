package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/ingest-gateway/internal/broker"
	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/dispatcher"
	"github.com/jmehdipour/ingest-gateway/internal/endpoint"
	"github.com/jmehdipour/ingest-gateway/internal/model"
	"github.com/jmehdipour/ingest-gateway/internal/repository"
)

// ackingPublisher acknowledges every record immediately.
type ackingPublisher struct{ err error }

func (p ackingPublisher) Publish(_ context.Context, msg broker.Message) *broker.Future {
	if p.err != nil {
		return broker.Resolved(broker.Failed(p.err))
	}
	return broker.Resolved(broker.Acknowledged(broker.Ack{Topic: msg.Topic}))
}

func (ackingPublisher) Close() error { return nil }

func newDispatcher(pub broker.Publisher) *dispatcher.Dispatcher {
	reg := endpoint.NewRegistry(
		endpoint.Definition{ID: "orders", Topic: "orders-topic", Blocking: true},
		endpoint.Definition{ID: "clicks", Topic: "clicks-topic"},
	)
	return dispatcher.New(reg, pub)
}

func testConfig() config.Config {
	return config.Config{
		HTTP:      config.HTTPConfig{BodyLimit: "1K"},
		Log:       config.LogConfig{Level: "error"},
		RateLimit: config.RateLimitConfig{Window: time.Hour},
	}
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, model.ResponseEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env model.ResponseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestPublish_Statuses(t *testing.T) {
	srv := NewServer(testConfig(), Deps{Dispatcher: newDispatcher(ackingPublisher{})})

	tests := []struct {
		name    string
		target  string
		body    string
		status  int
		message string
	}{
		{name: "blocking ack", target: "/publish/orders", body: `{"a":1}`, status: http.StatusOK, message: "OK"},
		{name: "fire and forget", target: "/publish/clicks", body: `{"a":1}`, status: http.StatusAccepted, message: "Accepted"},
		{name: "unknown", target: "/publish/unknown", body: `{"a":1}`, status: http.StatusNotFound,
			message: "Endpoint with endpointId = 'unknown' does not exist."},
		{name: "malformed", target: "/publish/orders", body: `{"a":`, status: http.StatusBadRequest},
		{name: "duplicate key", target: "/publish/orders", body: `{"a":1,"a":2}`, status: http.StatusBadRequest},
		{name: "empty body", target: "/publish/orders", body: ``, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, srv.Handler(), http.MethodPost, tt.target, tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, env.Status)
			assert.NotEmpty(t, env.ID)
			if tt.message != "" {
				assert.Equal(t, tt.message, env.Message)
			}
		})
	}
}

func TestPublish_BrokerFailure(t *testing.T) {
	srv := NewServer(testConfig(), Deps{Dispatcher: newDispatcher(ackingPublisher{err: errors.New("no leader")})})

	rec, env := do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "no leader", env.Message)
	assert.Equal(t, "Internal Server Error", env.Error)

	rec, _ = do(t, srv.Handler(), http.MethodPost, "/publish/clicks", `{}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPublish_EnvelopeFields(t *testing.T) {
	srv := NewServer(testConfig(), Deps{Dispatcher: newDispatcher(ackingPublisher{})})

	rec, _ := do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{"a":1}`, nil)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
	assert.Equal(t, "orders", fields["destinationId"])
	assert.Contains(t, fields, "id")
	assert.Contains(t, fields, "timestamp")
	assert.NotContains(t, fields, "error")
}

func TestPublish_BodyLimit(t *testing.T) {
	srv := NewServer(testConfig(), Deps{Dispatcher: newDispatcher(ackingPublisher{})})

	big := `{"a":"` + strings.Repeat("x", 2048) + `"}`
	rec, _ := do(t, srv.Handler(), http.MethodPost, "/publish/orders", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPublish_APIKey(t *testing.T) {
	clients := repository.NewStaticClients([]config.StaticKeyConfig{{Key: "secret", Name: "billing"}})
	srv := NewServer(testConfig(), Deps{Dispatcher: newDispatcher(ackingPublisher{}), Clients: clients})

	rec, _ := do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/healthz", ``, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is not behind auth")
}

func TestPublish_RateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clients := repository.NewStaticClients([]config.StaticKeyConfig{
		{Key: "slow", Name: "slow", RateLimitRPS: 2},
		{Key: "fast", Name: "fast"},
	})
	cfg := testConfig()
	cfg.RateLimit.RPS = 5
	srv := NewServer(cfg, Deps{Dispatcher: newDispatcher(ackingPublisher{}), Clients: clients, Redis: rdb})

	slow := map[string]string{"X-API-Key": "slow"}
	for i := 0; i < 2; i++ {
		rec, _ := do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, slow)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, slow)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// the other client falls back to the default limit and has its own window
	fast := map[string]string{"X-API-Key": "fast"}
	for i := 0; i < 5; i++ {
		rec, _ := do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, fast)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ = do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, fast)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPublish_RateLimitByIPWithoutAuth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	cfg.RateLimit.RPS = 1
	srv := NewServer(cfg, Deps{Dispatcher: newDispatcher(ackingPublisher{}), Redis: rdb})

	rec, _ := do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, srv.Handler(), http.MethodPost, "/publish/orders", `{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthz(t *testing.T) {
	healthy := true
	srv := NewServer(testConfig(), Deps{
		Dispatcher: newDispatcher(ackingPublisher{}),
		Health: func() error {
			if healthy {
				return nil
			}
			return errors.New("broker unavailable")
		},
	})

	rec, _ := do(t, srv.Handler(), http.MethodGet, "/healthz", ``, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	healthy = false
	rec, _ = do(t, srv.Handler(), http.MethodGet, "/healthz", ``, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type memDeliveries struct {
	rows    []model.Delivery
	lastReq repository.DeliveryFilter
}

func (m *memDeliveries) InsertBatch(_ context.Context, ds []model.Delivery) error {
	m.rows = append(m.rows, ds...)
	return nil
}

func (m *memDeliveries) List(_ context.Context, f repository.DeliveryFilter) ([]model.Delivery, error) {
	m.lastReq = f
	var out []model.Delivery
	for _, d := range m.rows {
		if f.Status == "" || d.Status == f.Status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDeliveries) Get(_ context.Context, id string) (*model.Delivery, error) {
	for _, d := range m.rows {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, nil
}

func TestDeliveries(t *testing.T) {
	repo := &memDeliveries{rows: []model.Delivery{
		{ID: "a", EndpointID: "clicks", Status: model.DeliveryAcked},
		{ID: "b", EndpointID: "clicks", Status: model.DeliveryFailed, Error: "broker down"},
	}}
	srv := NewServer(testConfig(), Deps{Dispatcher: newDispatcher(ackingPublisher{}), Deliveries: repo})

	rec, _ := do(t, srv.Handler(), http.MethodGet, "/v1/deliveries?status=failed&endpoint=clicks&limit=10", ``, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count   int              `json:"count"`
		Limit   int              `json:"limit"`
		Results []model.Delivery `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, 10, list.Limit)
	assert.Equal(t, "broker down", list.Results[0].Error)
	assert.Equal(t, "clicks", repo.lastReq.EndpointID)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/v1/deliveries?status=lost", ``, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/v1/deliveries/a", ``, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/v1/deliveries/zzz", ``, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeliveries_NotMountedWithoutStore(t *testing.T) {
	srv := NewServer(testConfig(), Deps{Dispatcher: newDispatcher(ackingPublisher{})})
	rec, _ := do(t, srv.Handler(), http.MethodGet, "/v1/deliveries", ``, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
