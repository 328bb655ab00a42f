package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"microbook/internal/book"
	"microbook/internal/metrics"
)

type fakeBookView struct {
	bids, asks book.Levels
	state      book.State
}

func (v fakeBookView) Bids() book.Levels { return v.bids }
func (v fakeBookView) Asks() book.Levels { return v.asks }
func (v fakeBookView) State() book.State { return v.state }

type fakeMetricsView struct{ snap *metrics.Snapshot }

func (v fakeMetricsView) Latest() *metrics.Snapshot { return v.snap }

func TestHandleHealth_ReportsState(t *testing.T) {
	s := New(fakeBookView{state: book.Synced}, fakeMetricsView{snap: &metrics.Snapshot{}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "synced", body["state"])
}

func TestHandleBook_RespectsDepthParam(t *testing.T) {
	bids := book.Levels{{Price: 100, Volume: 1}, {Price: 99, Volume: 1}, {Price: 98, Volume: 1}}
	s := New(fakeBookView{bids: bids}, fakeMetricsView{snap: &metrics.Snapshot{}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/book?depth=2", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Len(t, raw["bids"], 2)
}

func TestHandleMetricsSnapshot_ReturnsLatest(t *testing.T) {
	snap := &metrics.Snapshot{BestBid: 100, BestAsk: 101}
	s := New(fakeBookView{}, fakeMetricsView{snap: snap}, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics/snapshot", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var got metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 100.0, got.BestBid)
	require.Equal(t, 101.0, got.BestAsk)
}

type fakeResetter struct{ calls int }

func (r *fakeResetter) Reset() { r.calls++ }

func TestHandleResetLiquidity_RequiresPost(t *testing.T) {
	resetter := &fakeResetter{}
	s := New(fakeBookView{}, fakeMetricsView{snap: &metrics.Snapshot{}}, resetter)

	req := httptest.NewRequest(http.MethodGet, "/reset/liquidity", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Zero(t, resetter.calls)

	req = httptest.NewRequest(http.MethodPost, "/reset/liquidity", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, resetter.calls)
}
