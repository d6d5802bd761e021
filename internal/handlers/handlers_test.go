package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expense-agent/internal/models"
	"expense-agent/internal/storage"
)

type stubExchanger struct {
	reply  string
	err    error
	userID string
	text   string
}

func (s *stubExchanger) Handle(_ context.Context, userID, text string) (string, error) {
	s.userID = userID
	s.text = text
	return s.reply, s.err
}

func setup(t *testing.T, ex Exchanger) (*echo.Echo, storage.Ledger) {
	t.Helper()
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := echo.New()
	NewHandlers(ex, db).RegisterRoutes(e)
	return e, db
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestExchange(t *testing.T) {
	ex := &stubExchanger{reply: "Recorded 12.50 for lunch."}
	e, _ := setup(t, ex)

	rec := serve(e, http.MethodPost, "/v1/exchanges", `{"user_id":" alice ","text":"12.50 on lunch"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExchangeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Recorded 12.50 for lunch.", resp.Reply)
	assert.Equal(t, "alice", ex.userID)
	assert.Equal(t, "12.50 on lunch", ex.text)
}

func TestExchangeFallbackOnError(t *testing.T) {
	e, _ := setup(t, &stubExchanger{err: errors.New("inference failed")})

	rec := serve(e, http.MethodPost, "/v1/exchanges", `{"user_id":"alice","text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExchangeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, FallbackReply, resp.Reply)
}

func TestExchangeRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"user_id":`},
		{"missing user", `{"text":"hi"}`},
		{"blank text", `{"user_id":"alice","text":"   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &stubExchanger{reply: "unused"}
			e, _ := setup(t, ex)

			rec := serve(e, http.MethodPost, "/v1/exchanges", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, ex.userID, "agent must not be called")
		})
	}
}

func TestHealth(t *testing.T) {
	e, _ := setup(t, &stubExchanger{})

	rec := serve(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func seed(t *testing.T, ledger storage.Ledger, userID string, amount float64, category, ts string) {
	t.Helper()
	e := models.NewExpense{UserID: userID, Amount: amount, Timestamp: ts}
	if category != "" {
		e.Category = &category
	}
	_, err := ledger.AddExpense(context.Background(), e)
	require.NoError(t, err)
}

func TestListExpenses(t *testing.T) {
	e, ledger := setup(t, &stubExchanger{})
	seed(t, ledger, "alice", 10, "food", "2025-06-01T09:00:00")
	seed(t, ledger, "alice", 5, "transport", "2025-06-01T18:30:00")
	seed(t, ledger, "alice", 7, "", "2025-06-03T12:15:00")
	seed(t, ledger, "bob", 100, "food", "2025-06-03T12:00:00")

	rec := serve(e, http.MethodGet, "/v1/users/alice/expenses", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var vm ListViewModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vm))
	assert.InDelta(t, 22.0, vm.Total, 1e-9)
	require.Len(t, vm.Groups, 2)

	assert.Equal(t, "2025-06-03", vm.Groups[0].Date)
	require.Len(t, vm.Groups[0].Items, 1)
	assert.Equal(t, "12:15", vm.Groups[0].Items[0].Time)
	assert.Equal(t, "Uncategorized", vm.Groups[0].Items[0].CategoryStyle.Name)

	assert.Equal(t, "2025-06-01", vm.Groups[1].Date)
	assert.InDelta(t, 15.0, vm.Groups[1].Total, 1e-9)
	assert.Len(t, vm.Groups[1].Items, 2)
}

func TestListExpensesLimit(t *testing.T) {
	e, ledger := setup(t, &stubExchanger{})
	for i := range 3 {
		seed(t, ledger, "alice", float64(i+1), "food", "")
	}

	rec := serve(e, http.MethodGet, "/v1/users/alice/expenses?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var vm ListViewModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vm))
	count := 0
	for _, g := range vm.Groups {
		count += len(g.Items)
	}
	assert.Equal(t, 2, count)

	rec = serve(e, http.MethodGet, "/v1/users/alice/expenses?limit=two", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatistics(t *testing.T) {
	e, ledger := setup(t, &stubExchanger{})
	seed(t, ledger, "alice", 30, "food", "2025-02-01T10:00:00")
	seed(t, ledger, "alice", 10, "transport", "2025-02-28T23:00:00")
	seed(t, ledger, "alice", 99, "food", "2025-03-01T00:00:00")

	rec := serve(e, http.MethodGet, "/v1/users/alice/statistics?year=2025&month=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var vm StatsViewModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vm))
	assert.Equal(t, "February", vm.MonthName)
	assert.InDelta(t, 40.0, vm.Total, 1e-9)
	assert.Equal(t, 2025, vm.PrevYear)
	assert.Equal(t, 1, vm.PrevMonth)
	assert.Equal(t, 3, vm.NextMonth)
	require.Len(t, vm.Categories, 2)

	byCategory := map[string]StatsCategoryItem{}
	for _, c := range vm.Categories {
		byCategory[c.Category] = c
	}
	assert.InDelta(t, 75.0, byCategory["food"].Percentage, 1e-9)
	assert.Equal(t, "Transport", byCategory["transport"].CategoryStyle.Name)
}

func TestStatisticsRejectsBadMonth(t *testing.T) {
	e, _ := setup(t, &stubExchanger{})

	rec := serve(e, http.MethodGet, "/v1/users/alice/statistics?month=13", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildStatsYearBoundary(t *testing.T) {
	first := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	vm := buildStats(nil, first, time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 2024, vm.PrevYear)
	assert.Equal(t, 12, vm.PrevMonth)
	assert.True(t, vm.IsCurrentMonth)
	assert.Empty(t, vm.Categories)
	assert.Zero(t, vm.Total)
}

func TestFormatGroupTitle(t *testing.T) {
	now := time.Date(2025, time.June, 14, 10, 0, 0, 0, time.Local)

	assert.Equal(t, "TODAY", formatGroupTitle("2025-06-14", now))
	assert.Equal(t, "YESTERDAY", formatGroupTitle("2025-06-13", now))
	assert.Equal(t, "TUE, 10 JUN '25", formatGroupTitle("2025-06-10", now))
	assert.Equal(t, "GARBAGE", formatGroupTitle("garbage", now))
}

func TestSplitTimestamp(t *testing.T) {
	date, clock := splitTimestamp("2025-06-14T09:05:00+02:00")
	assert.Equal(t, "2025-06-14", date)
	assert.Equal(t, "09:05", clock)

	date, clock = splitTimestamp("2025-06-14")
	assert.Equal(t, "2025-06-14", date)
	assert.Empty(t, clock)
}
