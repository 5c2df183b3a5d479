package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"appointly/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

type sheetsCall struct {
	method string
	path   string
	body   string
}

type sheetsStub struct {
	mu     sync.Mutex
	calls  []sheetsCall
	column [][]interface{}
	append string
}

func (st *sheetsStub) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	st.mu.Lock()
	st.calls = append(st.calls, sheetsCall{method: r.Method, path: r.URL.Path, body: string(body)})
	st.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v4/spreadsheets/bk_sheet/values/Bookings!A:A:append":
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: st.append},
		})
	case "/v4/spreadsheets/bk_sheet/values/Bookings!A:A", "/v4/spreadsheets/bk_sheet/values/Bookings!A1":
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: st.column})
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (st *sheetsStub) paths() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, 0, len(st.calls))
	for _, c := range st.calls {
		out = append(out, c.path)
	}
	return out
}

func setupSheets(t *testing.T) (*sheetsStub, *SheetsService) {
	t.Helper()
	stub := &sheetsStub{append: "Bookings!A10:L10"}
	server := httptest.NewServer(http.HandlerFunc(stub.handle))
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	return stub, NewSheetsServiceWithClient(srv, "bk_sheet", nil)
}

func testBooking(id string) *models.Booking {
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:              id,
		ServiceName:     "Massage",
		Status:          models.StatusConfirmed,
		ScheduledAt:     ts,
		DurationMinutes: 60,
		AmountCents:     5000,
		Currency:        "USD",
		PaymentStatus:   models.PaymentPending,
		ClientName:      "Ana",
		ClientEmail:     "ana@example.com",
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

func TestBookingRowValues(t *testing.T) {
	_, s := setupSheets(t)
	values := s.bookingRowValues(testBooking("bk-1"))
	require.Len(t, values, len(bookingHeaders))
	assert.Equal(t, "bk-1", values[0])
	assert.Equal(t, "2026-03-02 10:00", values[2])
	assert.Equal(t, "Confirmed", values[4])
	assert.Equal(t, "50.00 USD", values[8])
}

func TestWarmUpCacheSkipsHeader(t *testing.T) {
	stub, s := setupSheets(t)
	stub.column = [][]interface{}{{"ID"}, {"bk-1"}, {}, {"bk-3"}}

	require.NoError(t, s.WarmUpCache(context.Background()))
	row, ok := s.getCachedRow("bk-1")
	assert.True(t, ok)
	assert.Equal(t, 2, row)
	row, _ = s.getCachedRow("bk-3")
	assert.Equal(t, 4, row)
	_, ok = s.getCachedRow("ID")
	assert.False(t, ok)
}

func TestUpsertAppendsUnknownBooking(t *testing.T) {
	stub, s := setupSheets(t)
	stub.column = [][]interface{}{{"ID"}}

	require.NoError(t, s.UpsertBooking(context.Background(), testBooking("bk-new")))
	assert.Contains(t, stub.paths(), "/v4/spreadsheets/bk_sheet/values/Bookings!A:A:append")

	row, ok := s.getCachedRow("bk-new")
	assert.True(t, ok)
	assert.Equal(t, 10, row)
}

func TestUpsertUpdatesCachedRow(t *testing.T) {
	stub, s := setupSheets(t)
	s.setCachedRow("bk-1", 2)

	require.NoError(t, s.UpsertBooking(context.Background(), testBooking("bk-1")))
	assert.Equal(t, []string{"/v4/spreadsheets/bk_sheet/values/Bookings!A2:L2"}, stub.paths())
}

func TestUpdateBookingStatus(t *testing.T) {
	stub, s := setupSheets(t)
	s.setCachedRow("bk-1", 3)

	require.NoError(t, s.UpdateBookingStatus(context.Background(), "bk-1", models.StatusCancelled))
	require.Len(t, stub.calls, 1)
	assert.Equal(t, "/v4/spreadsheets/bk_sheet/values:batchUpdate", stub.calls[0].path)
	assert.Contains(t, stub.calls[0].body, "Bookings!E3")
	assert.Contains(t, stub.calls[0].body, "Cancelled")

	stub.column = [][]interface{}{{"ID"}}
	err := s.UpdateBookingStatus(context.Background(), "bk-missing", models.StatusCancelled)
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestDeleteBookingRow(t *testing.T) {
	stub, s := setupSheets(t)
	s.setCachedRow("bk-1", 4)

	require.NoError(t, s.DeleteBookingRow(context.Background(), "bk-1"))
	assert.Contains(t, stub.paths(), "/v4/spreadsheets/bk_sheet/values/Bookings!A4:L4:clear")
	_, ok := s.getCachedRow("bk-1")
	assert.False(t, ok)

	stub.column = [][]interface{}{{"ID"}}
	assert.NoError(t, s.DeleteBookingRow(context.Background(), "bk-gone"))
}

func TestReplaceBookingsSheet(t *testing.T) {
	stub, s := setupSheets(t)
	s.setCachedRow("stale", 9)

	bookings := []*models.Booking{testBooking("bk-1"), testBooking("bk-2")}
	require.NoError(t, s.ReplaceBookingsSheet(context.Background(), bookings))

	assert.Equal(t, []string{
		"/v4/spreadsheets/bk_sheet/values/Bookings!A:Z:clear",
		"/v4/spreadsheets/bk_sheet/values/Bookings!A1",
	}, stub.paths())

	row, _ := s.getCachedRow("bk-2")
	assert.Equal(t, 3, row)
	_, ok := s.getCachedRow("stale")
	assert.False(t, ok)
}

func TestTestConnection(t *testing.T) {
	_, s := setupSheets(t)
	assert.NoError(t, s.TestConnection(context.Background()))
}

func TestFirstRow(t *testing.T) {
	row, ok := firstRow("Bookings!A10:L10")
	assert.True(t, ok)
	assert.Equal(t, 10, row)

	_, ok = firstRow("garbage")
	assert.False(t, ok)
}
