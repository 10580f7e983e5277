package met

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// Granularity is the size of the sub-ranges a long request is split into.
type Granularity string

const (
	ChunkNone  Granularity = "none"
	ChunkMonth Granularity = "month"
	ChunkYear  Granularity = "year"
)

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case ChunkNone, ChunkMonth, ChunkYear:
		return g, nil
	case "":
		return ChunkNone, nil
	default:
		return "", fmt.Errorf("unknown chunk granularity %q (want year, month or none)", s)
	}
}

// Chunks splits r into contiguous half-open sub-ranges
// [cursor, min(cursor+g, r.End)). ChunkNone yields r itself. Calendar steps
// clamp to the end of a shorter month, so Jan 31 is followed by Feb 29.
func Chunks(r DateRange, g Granularity) []DateRange {
	if !r.Start.Before(r.End) {
		return nil
	}
	var chunks []DateRange
	for cursor := r.Start; cursor.Before(r.End); {
		next := r.End
		switch g {
		case ChunkYear:
			next = addMonths(cursor, 12)
		case ChunkMonth:
			next = addMonths(cursor, 1)
		}
		if next.After(r.End) {
			next = r.End
		}
		chunks = append(chunks, DateRange{Start: cursor, End: next})
		cursor = next
	}
	return chunks
}

// addMonths adds n calendar months, clamping the day to the length of the
// target month instead of overflowing into the next one.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(t.Day(), lastDay)-1)
}

// FetchOptions controls one FetchRange call.
type FetchOptions struct {
	Chunk Granularity
	Build Options
}

// Service drives the source chunk by chunk and builds the series.
type Service struct {
	source Source
	store  Store
	log    logrus.FieldLogger
}

// NewService creates a new Service. store may be nil.
func NewService(source Source, store Store, log logrus.FieldLogger) *Service {
	return &Service{
		source: source,
		store:  store,
		log:    log,
	}
}

// SourceName returns the name of the underlying source.
func (s *Service) SourceName() string {
	return s.source.Name()
}

// FetchRange samples loc over r in chunks and returns the concatenated series,
// ordered by local time and free of duplicate timestamps. Source errors abort
// the whole fetch.
func (s *Service) FetchRange(ctx context.Context, loc Location, r DateRange, opts FetchOptions) ([]ObservationRow, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	builder := NewBuilder(opts.Build, s.log)
	chunks := Chunks(r, opts.Chunk)

	var (
		rows []ObservationRow
		seed *RawSample
	)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := s.log.WithFields(logrus.Fields{
			"source": s.source.Name(),
			"chunk":  chunk.String(),
			"n":      fmt.Sprintf("%d/%d", i+1, len(chunks)),
		})
		log.Info("fetching chunk")
		start := time.Now()

		samples, err := s.samples(ctx, loc, chunk)
		if err != nil {
			return nil, fmt.Errorf("fetch chunk %s: %w", chunk, err)
		}
		if len(samples) == 0 {
			log.Warn("chunk returned no samples")
			continue
		}

		res := builder.Build(samples, seed)
		rows = append(rows, res.Rows...)
		if res.Last != nil {
			seed = res.Last
		}

		log.WithFields(logrus.Fields{
			"samples":  len(samples),
			"rows":     len(res.Rows),
			"step":     res.Step,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Info("chunk done")
	}

	slices.SortStableFunc(rows, func(a, b ObservationRow) int {
		return a.Time.Compare(b.Time)
	})
	return Dedupe(rows), nil
}

// samples returns the chunk's samples from the store when cached, otherwise
// from the source. Samples outside the chunk are discarded so adjacent chunks
// never share a boundary timestep.
func (s *Service) samples(ctx context.Context, loc Location, chunk DateRange) ([]RawSample, error) {
	name := s.source.Name()
	if s.store != nil {
		if cached, err := s.store.GetSamples(name, loc, chunk); err == nil {
			s.log.WithField("chunk", chunk.String()).Debug("using cached samples")
			return cached, nil
		}
	}

	fetched, err := s.source.Sample(ctx, loc, chunk)
	if err != nil {
		return nil, err
	}

	samples := make([]RawSample, 0, len(fetched))
	for _, smp := range fetched {
		if chunk.Contains(smp.Time) {
			samples = append(samples, smp)
		}
	}
	if dropped := len(fetched) - len(samples); dropped > 0 {
		s.log.WithFields(logrus.Fields{
			"chunk":   chunk.String(),
			"dropped": dropped,
		}).Debug("discarded samples outside chunk")
	}

	if s.store != nil && len(samples) > 0 {
		s.store.SaveSamples(name, loc, chunk, samples)
	}
	return samples, nil
}
