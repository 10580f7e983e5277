package httpapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/glm-met/internal/met"
	"github.com/i474232898/glm-met/internal/metcsv"
	"github.com/i474232898/glm-met/internal/nml"
)

var validate = validator.New()

// Fetcher is the part of met.Service the handlers need.
type Fetcher interface {
	FetchRange(ctx context.Context, loc met.Location, r met.DateRange, opts met.FetchOptions) ([]met.ObservationRow, error)
	SourceName() string
}

// Options configures the met endpoint.
type Options struct {
	// Fetch is the base fetch configuration; the offset comes from the query.
	Fetch        met.FetchOptions
	MaxRangeDays int
	Timeout      time.Duration
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, fetcher Fetcher, opts Options) {
	v1 := app.Group("/api/v1")

	v1.Get("/met", func(c *fiber.Ctx) error {
		var req metQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if opts.MaxRangeDays > 0 && req.End.Sub(req.Start) > time.Duration(opts.MaxRangeDays)*24*time.Hour {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("range longer than %d days", opts.MaxRangeDays))
		}

		ctx := c.UserContext()
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		fetchOpts := opts.Fetch
		fetchOpts.Build.Offset = req.offset()
		loc := met.Location{Lat: *req.Lat, Lon: *req.Lon}
		rows, err := fetcher.FetchRange(ctx, loc, met.DateRange{Start: req.Start, End: req.End}, fetchOpts)
		if err != nil {
			return fetchError(err)
		}

		body, err := metcsv.Marshal(rows)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to encode met data")
		}
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="met.csv"`)
		c.Set("X-Met-Source", fetcher.SourceName())
		return c.Send(body)
	})
}

func fetchError(err error) error {
	var remote *met.RemoteServiceError
	switch {
	case errors.As(err, &remote):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "met fetch timed out")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

// ErrorHandler renders errors as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// metQuery holds query parameters for the met endpoint.
type metQuery struct {
	Lat      *float64  `validate:"required,gte=-90,lte=90"`
	Lon      *float64  `validate:"required,gte=-180,lte=180"`
	Start    time.Time `validate:"required"`
	End      time.Time `validate:"required,gtfield=Start"`
	Timezone float64   `validate:"gte=-24,lte=24"`
}

func (q *metQuery) bind(c *fiber.Ctx) error {
	var err error
	if q.Lat, err = optionalFloat(c, "lat"); err != nil {
		return err
	}
	if q.Lon, err = optionalFloat(c, "lon"); err != nil {
		return err
	}

	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr == "" || endStr == "" {
		return errors.New("start and end query parameters are required")
	}
	if q.Start, err = nml.ParseDate(startStr); err != nil {
		return err
	}
	if q.End, err = nml.ParseDate(endStr); err != nil {
		return err
	}

	tz, err := optionalFloat(c, "timezone")
	if err != nil {
		return err
	}
	if tz != nil {
		q.Timezone = *tz
	}
	return nil
}

func (q *metQuery) offset() time.Duration {
	return time.Duration(math.Round(q.Timezone*3600)) * time.Second
}

func optionalFloat(c *fiber.Ctx, key string) (*float64, error) {
	s := c.Query(key)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("invalid %s %q", key, s)
	}
	return &v, nil
}
