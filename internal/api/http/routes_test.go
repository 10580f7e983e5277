package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/glm-met/internal/met"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchRange(ctx context.Context, loc met.Location, r met.DateRange, opts met.FetchOptions) ([]met.ObservationRow, error) {
	args := m.Called(ctx, loc, r, opts)
	rows, _ := args.Get(0).([]met.ObservationRow)
	return rows, args.Error(1)
}

func (m *mockFetcher) SourceName() string {
	return "mock"
}

func newApp(f Fetcher) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, f, Options{
		Fetch:        met.FetchOptions{Chunk: met.ChunkMonth},
		MaxRangeDays: 366,
		Timeout:      time.Minute,
	})
	return app
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMetEndpoint(t *testing.T) {
	f := &mockFetcher{}
	wantRange := met.DateRange{Start: day(2020, 1, 1), End: day(2020, 1, 2)}
	wantOpts := met.FetchOptions{Chunk: met.ChunkMonth, Build: met.Options{Offset: -6 * time.Hour}}
	rows := []met.ObservationRow{{Time: day(2019, 12, 31).Add(18 * time.Hour), AirTemp: -2, RelHum: 90, WindSpeed: 1.5}}
	f.On("FetchRange", mock.Anything, met.Location{Lat: 45, Lon: -93}, wantRange, wantOpts).Return(rows, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/met?lat=45&lon=-93&start=2020-01-01&end=2020-01-02&timezone=-6", nil)
	resp, err := newApp(f).Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "mock", resp.Header.Get("X-Met-Source"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t,
		"time,AirTemp,ShortWave,LongWave,RelHum,WindSpeed,Rain,Snow\n2019-12-31 18:00,-2,,,90,1.5,,\n",
		string(body))
	f.AssertExpectations(t)
}

func TestMetEndpoint_Validation(t *testing.T) {
	app := newApp(&mockFetcher{})

	for _, query := range []string{
		"lon=-93&start=2020-01-01&end=2020-01-02",
		"lat=95&lon=-93&start=2020-01-01&end=2020-01-02",
		"lat=45&lon=-93&start=2020-01-02&end=2020-01-01",
		"lat=45&lon=-93&start=2020-01-01",
		"lat=abc&lon=-93&start=2020-01-01&end=2020-01-02",
		"lat=45&lon=-93&start=2020-01-01&end=2020-01-02&timezone=30",
		"lat=45&lon=-93&start=2010-01-01&end=2020-01-01",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/met?"+query, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestMetEndpoint_RemoteFailure(t *testing.T) {
	f := &mockFetcher{}
	f.On("FetchRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &met.RemoteServiceError{Service: "cds", Op: "submit", StatusCode: 401, Err: errors.New("unauthorized")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/met?lat=45&lon=-93&start=2020-01-01&end=2020-01-02", nil)
	resp, err := newApp(f).Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var payload struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.True(t, payload.Error)
	assert.True(t, strings.Contains(payload.Message, "unauthorized"))
}
