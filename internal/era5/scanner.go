package era5

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/glm-met/internal/met"
)

// ErrOutsideGrid is returned when the requested point is not covered by the
// grid of a file.
var ErrOutsideGrid = errors.New("point outside grid")

// nativeResolution is the ERA5-Land grid spacing in degrees, used when a file
// holds a single row or column.
const nativeResolution = 0.1

// timeVarNames lists the time coordinate names, newest CDS layout first.
var timeVarNames = []string{"valid_time", "time"}

type variable struct {
	vg      api.VarGetter
	scale   float64
	offset  float64
	fill    float64
	hasFill bool
}

// Scanner reads the time series of a single grid cell from an ERA5-Land
// NetCDF file one timestamp at a time.
type Scanner struct {
	path  string
	nc    api.Group
	la    []float64
	lo    []float64
	ts    []time.Time
	iLat  int
	iLon  int
	vars  [numVariables]*variable
	pos   int
	rec   Record
	err   error
	from  time.Time
	until time.Time
}

// NewScanner opens the file at path and selects the grid cell nearest to loc.
func NewScanner(path string, loc met.Location) (*Scanner, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Scanner{path: path, nc: nc, pos: -1}
	if err := s.init(loc); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Scanner) init(loc met.Location) error {
	var err error
	if s.la, err = coordValues(s.nc, "latitude"); err != nil {
		return err
	}
	if s.lo, err = coordValues(s.nc, "longitude"); err != nil {
		return err
	}
	if s.ts, err = timeValues(s.nc); err != nil {
		return err
	}

	var dLat, dLon float64
	s.iLat, dLat = nearest(s.la, loc.Lat, func(a, b float64) float64 { return math.Abs(a - b) })
	s.iLon, dLon = nearest(s.lo, loc.Lon, lonDistance)
	if s.iLat < 0 || s.iLon < 0 || dLat > spacing(s.la) || dLon > spacing(s.lo) {
		return fmt.Errorf("%w: %s", ErrOutsideGrid, loc.Key())
	}

	found := 0
	for v := Variable(0); v < numVariables; v++ {
		vg, err := s.nc.GetVarGetter(shortNames[v])
		if err != nil {
			continue
		}
		if dims := vg.Dimensions(); len(dims) != 3 {
			return fmt.Errorf("variable %s: want 3 dimensions, got %v", v, dims)
		}
		s.vars[v] = newVariable(vg)
		found++
	}
	if found == 0 {
		return errors.New("no ERA5-Land variables")
	}
	return nil
}

func newVariable(vg api.VarGetter) *variable {
	v := &variable{vg: vg, scale: 1}
	attrs := vg.Attributes()
	if x, ok := attrFloat(attrs, "scale_factor"); ok {
		v.scale = x
	}
	if x, ok := attrFloat(attrs, "add_offset"); ok {
		v.offset = x
	}
	if x, ok := attrFloat(attrs, "_FillValue"); ok {
		v.fill, v.hasFill = x, true
	} else if x, ok := attrFloat(attrs, "missing_value"); ok {
		v.fill, v.hasFill = x, true
	}
	return v
}

// Restrict limits Scan to timestamps inside r.
func (s *Scanner) Restrict(r met.DateRange) {
	s.from, s.until = r.Start, r.End
}

// Close closes the underlying file.
func (s *Scanner) Close() {
	s.nc.Close()
}

// Cell returns the coordinates of the selected grid cell.
func (s *Scanner) Cell() met.Location {
	return met.Location{Lat: s.la[s.iLat], Lon: s.lo[s.iLon]}
}

// Summary returns information about the dataset suitable for logging.
func (s *Scanner) Summary() logrus.Fields {
	var names []string
	for v, vr := range s.vars {
		if vr != nil {
			names = append(names, Variable(v).String())
		}
	}
	fields := logrus.Fields{
		"file":      s.path,
		"variables": names,
		"tsCnt":     len(s.ts),
		"laCnt":     len(s.la),
		"loCnt":     len(s.lo),
		"cell":      s.Cell().Key(),
	}
	if len(s.ts) > 0 {
		fields["first"] = s.ts[0]
		fields["last"] = s.ts[len(s.ts)-1]
	}
	return fields
}

// Scan reads the next timestamp at the selected cell. It returns false when
// the file is exhausted or a read fails; Err distinguishes the two.
func (s *Scanner) Scan() bool {
	for {
		s.pos++
		if s.pos >= len(s.ts) {
			return false
		}
		t := s.ts[s.pos]
		if !s.from.IsZero() && (t.Before(s.from) || !t.Before(s.until)) {
			continue
		}
		break
	}

	rec := Record{Time: s.ts[s.pos]}
	for v, vr := range s.vars {
		if vr == nil {
			continue
		}
		x, err := vr.read(int64(s.pos), s.iLat, s.iLon)
		if err != nil {
			s.err = fmt.Errorf("%s: read %s at %d: %w", s.path, Variable(v), s.pos, err)
			return false
		}
		rec.Values[v] = x
		rec.Has[v] = true
	}
	s.rec = rec
	return true
}

// Record returns the record read by the last Scan.
func (s *Scanner) Record() Record {
	return s.rec
}

// Err returns the first read error.
func (s *Scanner) Err() error {
	return s.err
}

// read unpacks the value at [pos][i][j]. Fill values become NaN.
func (v *variable) read(pos int64, i, j int) (float64, error) {
	slice, err := v.vg.GetSlice(pos, pos+1)
	if err != nil {
		return 0, err
	}
	var raw float64
	switch a := slice.(type) {
	case [][][]int16:
		raw = float64(a[0][i][j])
	case [][][]int32:
		raw = float64(a[0][i][j])
	case [][][]float32:
		raw = float64(a[0][i][j])
	case [][][]float64:
		raw = a[0][i][j]
	default:
		return 0, fmt.Errorf("unsupported type %T", slice)
	}
	if math.IsNaN(raw) || (v.hasFill && raw == v.fill) {
		return math.NaN(), nil
	}
	return raw*v.scale + v.offset, nil
}

func coordValues(nc api.Group, name string) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	v, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	return floats(v)
}

func timeValues(nc api.Group) ([]time.Time, error) {
	for _, name := range timeVarNames {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			continue
		}
		units, ok := attrString(vg.Attributes(), "units")
		if !ok {
			return nil, fmt.Errorf("coordinate %s has no units", name)
		}
		unit, ref, err := parseTimeUnits(units)
		if err != nil {
			return nil, err
		}
		v, err := vg.Values()
		if err != nil {
			return nil, fmt.Errorf("coordinate %s: %w", name, err)
		}
		raw, err := floats(v)
		if err != nil {
			return nil, err
		}
		ts := make([]time.Time, len(raw))
		for i, x := range raw {
			ts[i] = ref.Add(time.Duration(math.Round(x * float64(unit))))
		}
		return ts, nil
	}
	return nil, errors.New("no time coordinate")
}

var timeUnitsRe = regexp.MustCompile(`^\s*(seconds|minutes|hours|days)\s+since\s+(.+?)\s*$`)

var refLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimeUnits parses CF units such as "hours since 1900-01-01 00:00:00.0".
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	m := timeUnitsRe.FindStringSubmatch(units)
	if m == nil {
		return 0, time.Time{}, fmt.Errorf("unsupported time units %q", units)
	}
	unit := map[string]time.Duration{
		"seconds": time.Second,
		"minutes": time.Minute,
		"hours":   time.Hour,
		"days":    24 * time.Hour,
	}[m[1]]

	ref := strings.TrimSuffix(strings.TrimSuffix(m[2], " UTC"), "Z")
	if i := strings.LastIndex(ref, "."); i > strings.LastIndex(ref, ":") && strings.Contains(ref, ":") {
		ref = ref[:i]
	}
	for _, layout := range refLayouts {
		if t, err := time.ParseInLocation(layout, ref, time.UTC); err == nil {
			return unit, t, nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unsupported time origin %q", m[2])
}

func floats(v any) ([]float64, error) {
	switch a := v.(type) {
	case []float64:
		return a, nil
	case []float32:
		return convert(a), nil
	case []int64:
		return convert(a), nil
	case []int32:
		return convert(a), nil
	case []int16:
		return convert(a), nil
	default:
		return nil, fmt.Errorf("unsupported coordinate type %T", v)
	}
}

func convert[T float32 | int64 | int32 | int16](a []T) []float64 {
	out := make([]float64, len(a))
	for i, x := range a {
		out[i] = float64(x)
	}
	return out
}

func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	switch a := v.(type) {
	case float64:
		return a, true
	case float32:
		return float64(a), true
	case int16:
		return float64(a), true
	case int32:
		return float64(a), true
	case int64:
		return float64(a), true
	case []float64, []float32, []int16, []int32, []int64:
		f, err := floats(a)
		if err != nil || len(f) == 0 {
			return 0, false
		}
		return f[0], true
	}
	return 0, false
}

func attrString(attrs api.AttributeMap, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func nearest(axis []float64, x float64, dist func(a, b float64) float64) (int, float64) {
	best, bestD := -1, math.Inf(1)
	for i, a := range axis {
		if d := dist(a, x); d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

func lonDistance(a, b float64) float64 {
	return math.Abs(math.Mod(a-b+540, 360) - 180)
}

func spacing(axis []float64) float64 {
	if len(axis) < 2 {
		return nativeResolution
	}
	return math.Abs(axis[1] - axis[0])
}
