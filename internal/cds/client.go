// Package cds is a met.Source backed by the Copernicus Climate Data Store
// retrieve API. Each request downloads an ERA5-Land NetCDF subset around the
// point, which is then read with the era5 package.
package cds

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/i474232898/glm-met/internal/era5"
	"github.com/i474232898/glm-met/internal/met"
)

const (
	// DefaultURL is the base of the CDS API.
	DefaultURL = "https://cds.climate.copernicus.eu/api"
	// DefaultDataset is the hourly ERA5-Land reanalysis.
	DefaultDataset = "reanalysis-era5-land"
)

// variables are requested in this order; the NetCDF short names are
// t2m, d2m, u10, v10, ssrd, strd, tp and sf.
var variables = []string{
	"2m_temperature",
	"2m_dewpoint_temperature",
	"10m_u_component_of_wind",
	"10m_v_component_of_wind",
	"surface_solar_radiation_downwards",
	"surface_thermal_radiation_downwards",
	"total_precipitation",
	"snowfall",
}

var validate = validator.New()

// Config configures a Client.
type Config struct {
	URL          string        `validate:"required,url"`
	Key          string        `validate:"required"`
	Dataset      string        `validate:"required"`
	CacheDir     string        `validate:"required"`
	PollInterval time.Duration `validate:"gt=0"`
	// AreaMargin is the half-width in degrees of the box requested around the
	// point.
	AreaMargin float64 `validate:"gt=0,lte=1"`
	Backoff    BackoffConfig
}

// Client retrieves ERA5-Land subsets from the CDS.
type Client struct {
	cfg     Config
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

// NewClient validates cfg and creates a Client. Zero optional settings take
// their defaults.
func NewClient(cfg Config, httpClient *http.Client, log logrus.FieldLogger) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.AreaMargin == 0 {
		cfg.AreaMargin = 0.1
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid cds config: %w", err)
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Client{
		cfg: cfg,
		httpCfg: HTTPClientConfig{
			Client:  httpClient,
			Backoff: cfg.Backoff,
		},
		circuit: newCircuitBreaker("cds"),
		log:     log.WithField("source", "cds"),
	}, nil
}

// Name implements met.Source.
func (c *Client) Name() string {
	return "cds"
}

// Sample implements met.Source.
func (c *Client) Sample(ctx context.Context, loc met.Location, r met.DateRange) ([]met.RawSample, error) {
	paths, err := c.Retrieve(ctx, loc, r)
	if err != nil {
		return nil, err
	}
	samples, err := era5.ReadPoint(loc, r, c.log, paths...)
	if err != nil {
		return nil, fmt.Errorf("read cds download: %w", err)
	}
	return samples, nil
}

// Retrieve returns the NetCDF files covering loc over r, downloading them
// unless a previous run left them in the cache directory.
func (c *Client) Retrieve(ctx context.Context, loc met.Location, r met.DateRange) ([]string, error) {
	dir := filepath.Join(c.cfg.CacheDir, cacheKey(c.cfg.Dataset, loc, r))
	log := c.log.WithField("range", r.String())

	if paths, _ := filepath.Glob(filepath.Join(dir, "*.nc")); len(paths) > 0 {
		log.WithField("dir", dir).Debug("using cached download")
		return paths, nil
	}

	staging := filepath.Join(c.cfg.CacheDir, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	defer os.RemoveAll(staging)

	jobID, err := c.submit(ctx, buildInputs(loc, r, c.cfg.AreaMargin))
	if err != nil {
		return nil, err
	}
	log = log.WithField("job", jobID)
	log.Info("cds request submitted")

	if err := c.wait(ctx, jobID, log); err != nil {
		return nil, err
	}
	href, err := c.results(ctx, jobID)
	if err != nil {
		return nil, err
	}

	archive := filepath.Join(staging, "download")
	n, err := c.download(ctx, href, archive)
	if err != nil {
		return nil, err
	}
	log.WithField("bytes", n).Info("cds download complete")

	if err := unpack(archive, staging); err != nil {
		return nil, fmt.Errorf("unpack cds download: %w", err)
	}
	if err := os.Rename(staging, dir); err != nil {
		if _, statErr := os.Stat(dir); statErr != nil {
			return nil, fmt.Errorf("store cds download: %w", err)
		}
	}
	return filepath.Glob(filepath.Join(dir, "*.nc"))
}

type requestInputs struct {
	Variable       []string  `json:"variable"`
	Year           []string  `json:"year"`
	Month          []string  `json:"month"`
	Day            []string  `json:"day"`
	Time           []string  `json:"time"`
	Area           []float64 `json:"area"`
	DataFormat     string    `json:"data_format"`
	DownloadFormat string    `json:"download_format"`
}

// buildInputs lists every year, month and day touched by r. The CDS takes
// their product, so a range crossing a year boundary over-fetches; samples are
// filtered to r when read.
func buildInputs(loc met.Location, r met.DateRange, margin float64) requestInputs {
	years, months, days := set{}, set{}, set{}
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		years.add(fmt.Sprintf("%04d", d.Year()))
		months.add(fmt.Sprintf("%02d", int(d.Month())))
		days.add(fmt.Sprintf("%02d", d.Day()))
	}
	hours := make([]string, 24)
	for h := range hours {
		hours[h] = fmt.Sprintf("%02d:00", h)
	}
	return requestInputs{
		Variable: variables,
		Year:     years.sorted(),
		Month:    months.sorted(),
		Day:      days.sorted(),
		Time:     hours,
		Area: []float64{
			round2(math.Min(90, loc.Lat+margin)),
			round2(loc.Lon - margin),
			round2(math.Max(-90, loc.Lat-margin)),
			round2(loc.Lon + margin),
		},
		DataFormat:     "netcdf",
		DownloadFormat: "unarchived",
	}
}

type set map[string]struct{}

func (s set) add(v string) { s[v] = struct{}{} }

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

type jobStatus struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
}

func (c *Client) submit(ctx context.Context, inputs requestInputs) (string, error) {
	body, err := json.Marshal(map[string]any{"inputs": inputs})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/retrieve/v1/processes/%s/execution", c.cfg.URL, url.PathEscape(c.cfg.Dataset))

	var job jobStatus
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &job); err != nil {
		return "", c.remote("submit", err)
	}
	if job.JobID == "" {
		return "", c.remote("submit", errors.New("response has no jobID"))
	}
	return job.JobID, nil
}

func (c *Client) wait(ctx context.Context, jobID string, log logrus.FieldLogger) error {
	endpoint := fmt.Sprintf("%s/retrieve/v1/jobs/%s", c.cfg.URL, url.PathEscape(jobID))
	last := ""
	for {
		var job jobStatus
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &job); err != nil {
			return c.remote("status", err)
		}
		if job.Status != last {
			log.WithField("status", job.Status).Info("cds job status")
			last = job.Status
		}
		switch job.Status {
		case "successful":
			return nil
		case "failed", "rejected", "dismissed", "deleted":
			return c.remote("job", fmt.Errorf("job %s %s", jobID, job.Status))
		}

		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) results(ctx context.Context, jobID string) (string, error) {
	endpoint := fmt.Sprintf("%s/retrieve/v1/jobs/%s/results", c.cfg.URL, url.PathEscape(jobID))
	var payload struct {
		Asset struct {
			Value struct {
				Href string `json:"href"`
			} `json:"value"`
		} `json:"asset"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return "", c.remote("results", err)
	}
	if payload.Asset.Value.Href == "" {
		return "", c.remote("results", errors.New("response has no download link"))
	}
	return payload.Asset.Value.Href, nil
}

func (c *Client) download(ctx context.Context, href, dst string) (int64, error) {
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, href, nil)
	})
	if err != nil {
		return 0, c.remote("download", err)
	}
	defer resp.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, c.remote("download", err)
	}
	return n, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte, out any) error {
	buildRequest := func() (*http.Request, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, endpoint, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("PRIVATE-TOKEN", c.cfg.Key)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// remote wraps a failure as *met.RemoteServiceError. Context errors pass
// through unchanged.
func (c *Client) remote(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	rerr := &met.RemoteServiceError{Service: c.Name(), Op: op, Err: err}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		rerr.StatusCode = statusErr.Code
	}
	return rerr
}

func cacheKey(dataset string, loc met.Location, r met.DateRange) string {
	return fmt.Sprintf("%s_%.4f_%.4f_%s_%s",
		dataset, loc.Lat, loc.Lon, r.Start.Format(met.DateLayout), r.End.Format(met.DateLayout))
}

var zipMagic = []byte("PK\x03\x04")

// unpack turns the downloaded file into one or more *.nc files inside dir.
// The CDS zips the result when the variables span several files.
func unpack(archive, dir string) error {
	head := make([]byte, len(zipMagic))
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	_, err = io.ReadFull(f, head)
	f.Close()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if !bytes.Equal(head, zipMagic) {
		return os.Rename(archive, filepath.Join(dir, "data.nc"))
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	found := 0
	for _, member := range zr.File {
		name := filepath.Base(member.Name)
		if member.FileInfo().IsDir() || filepath.Ext(name) != ".nc" {
			continue
		}
		if err := extract(member, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("extract %s: %w", member.Name, err)
		}
		found++
	}
	if found == 0 {
		return errors.New("archive holds no NetCDF files")
	}
	return os.Remove(archive)
}

func extract(member *zip.File, dst string) error {
	rc, err := member.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
