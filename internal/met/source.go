package met

import "context"

// Source abstracts the point-sample service (e.g. the Copernicus CDS or a
// directory of downloaded NetCDF files).
//
// Sample returns the samples of [r.Start, r.End) at loc. An empty result is
// not an error. Timesteps that cannot be extracted are logged and skipped by
// the implementation; connectivity, authentication and quota failures are
// reported as *RemoteServiceError.
type Source interface {
	Name() string
	Sample(ctx context.Context, loc Location, r DateRange) ([]RawSample, error)
}

// Store caches the raw samples of a chunk so repeated requests for the same
// point and range do not hit the remote service again.
type Store interface {
	SaveSamples(source string, loc Location, r DateRange, samples []RawSample)
	GetSamples(source string, loc Location, r DateRange) ([]RawSample, error)
}
