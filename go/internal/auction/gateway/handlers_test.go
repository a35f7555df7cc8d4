package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T, st store.Store) (*http.ServeMux, *Service) {
	t.Helper()
	svc, err := NewService(context.Background(), DefaultConfig(), Deps{
		Store: st,
		Clock: clockwork.NewFakeClockAt(testEpoch),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, svc.Stop()) })

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	return mux, svc
}

func serve(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

const validDefinition = `{
	"product_id": "sku-42",
	"biddable": true,
	"starting_bid": "25.00",
	"start_time": "2026-06-01T09:00:00Z",
	"end_time": "2026-06-01T10:00:00Z"
}`

func TestHTTPHandler_CreateCancelAndState(t *testing.T) {
	mux, _ := newTestMux(t, store.NewMemoryStore())

	rec := serve(mux, http.MethodPost, "/api/auctions", validDefinition)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created events.AuctionSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, "sku-42", created.ProductID)

	rec = serve(mux, http.MethodGet, "/api/auctions/"+created.AuctionID+"/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap events.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, events.SourceStore, snap.Source)
	assert.Empty(t, snap.BidHistory)

	rec = serve(mux, http.MethodPost, "/api/auctions/"+created.AuctionID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(mux, http.MethodPost, "/api/auctions/"+created.AuctionID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, auctionerrors.ReasonTransition, body["reason"])
}

func TestHTTPHandler_ErrorStatuses(t *testing.T) {
	mux, _ := newTestMux(t, store.NewMemoryStore())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed id", http.MethodGet, "/api/auctions/nope/state", "", http.StatusBadRequest},
		{"unknown auction", http.MethodGet, "/api/auctions/" + uuid.NewString() + "/state", "", http.StatusNotFound},
		{"unknown field", http.MethodPost, "/api/auctions", `{"sku": "x"}`, http.StatusBadRequest},
		{"not biddable", http.MethodPost, "/api/auctions", strings.Replace(validDefinition, `"biddable": true`, `"biddable": false`, 1), http.StatusBadRequest},
		{"cancel unknown", http.MethodPost, "/api/auctions/" + uuid.NewString() + "/cancel", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(mux, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHTTPHandler_Health(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		mux, _ := newTestMux(t, store.NewMemoryStore())
		rec := serve(mux, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("store down", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := store.NewMockStore(ctrl)
		st.EXPECT().Ping(gomock.Any()).Return(auctionerrors.ErrTransientStore)

		mux, _ := newTestMux(t, st)
		rec := serve(mux, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHTTPHandler_Stats(t *testing.T) {
	mux, _ := newTestMux(t, store.NewMemoryStore())

	rec := serve(mux, http.MethodGet, "/ws/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.EqualValues(t, 0, stats["total_connections"])
	assert.EqualValues(t, 0, stats["active_auctions"])
	assert.EqualValues(t, 0, stats["stalest_pong_seconds"])
}
