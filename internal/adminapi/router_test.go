package adminapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
	"github.com/vitaliisemenov/trustcore/internal/truststore"
	"github.com/vitaliisemenov/trustcore/internal/webhook"
)

func newTestRouter() http.Handler {
	store := kvstore.NewMemoryStore(clock.New())
	queue := webhook.NewQueue(store)
	gate := truststore.NewGate(truststore.NewBlockStore(store), truststore.NewRateLimitStore(store))
	return New(queue, gate, nil, slog.Default())
}

func TestHealthzReturnsOK(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndListWebhook(t *testing.T) {
	router := newTestRouter()

	body, _ := json.Marshal(map[string]any{
		"userId": "u1",
		"name":   "my hook",
		"url":    "https://example.test/hook",
		"secret": "0123456789abcdef0123456789abcdef",
		"events": map[string]bool{"goal.completed": true},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/webhooks?userId=u1", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var webhooks []webhook.Webhook
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &webhooks))
	require.Len(t, webhooks, 1)
	require.Equal(t, "my hook", webhooks[0].Name)
}

func TestCreateWebhookRejectsMissingFields(t *testing.T) {
	router := newTestRouter()
	body, _ := json.Marshal(map[string]any{"userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
