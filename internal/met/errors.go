package met

import (
	"errors"
	"fmt"
	"time"
)

// ErrUndeterminedTimestep is returned when a batch has fewer than two usable
// timestamps, so accumulated fields cannot be turned into rates.
var ErrUndeterminedTimestep = errors.New("undetermined timestep")

// SampleExtractionError describes a single timestep that could not be read.
// The sample is dropped; the rest of the batch is kept.
type SampleExtractionError struct {
	Index int
	Time  time.Time
	Err   error
}

func (e *SampleExtractionError) Error() string {
	if e.Time.IsZero() {
		return fmt.Sprintf("sample %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("sample %d (%s): %v", e.Index, e.Time.Format(time.RFC3339), e.Err)
}

func (e *SampleExtractionError) Unwrap() error {
	return e.Err
}

// RemoteServiceError is a connectivity, authentication or quota failure of the
// point-sample service. It is fatal for a run.
type RemoteServiceError struct {
	Service    string
	Op         string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}
