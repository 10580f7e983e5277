package era5

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/glm-met/internal/met"
)

var (
	day0   = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	epoch  = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	lats   = []float64{45.1, 45.0, 44.9}
	lons   = []float64{-93.1, -93.0, -92.9}
	point  = met.Location{Lat: 45.02, Lon: -92.98}
	nSteps = 4
)

func attrs(t *testing.T, kv map[string]any) api.AttributeMap {
	t.Helper()
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	m, err := util.NewOrderedMap(keys, kv)
	require.NoError(t, err)
	return m
}

// grid returns a [time][lat][lon] cube whose value at the centre cell is
// base+k and base+k+1000 elsewhere.
func grid(base float32) [][][]float32 {
	out := make([][][]float32, nSteps)
	for k := range out {
		out[k] = make([][]float32, len(lats))
		for i := range lats {
			out[k][i] = make([]float32, len(lons))
			for j := range lons {
				v := base + float32(k)
				if i != 1 || j != 1 {
					v += 1000
				}
				out[k][i][j] = v
			}
		}
	}
	return out
}

// packedTemperature returns t2m stored as int16 with scale/offset; step 2 of
// the centre cell holds the fill value.
func packedTemperature() [][][]int16 {
	out := make([][][]int16, nSteps)
	for k := range out {
		out[k] = make([][]int16, len(lats))
		for i := range lats {
			out[k][i] = make([]int16, len(lons))
			for j := range lons {
				out[k][i][j] = int16(k * 100)
			}
		}
	}
	out[2][1][1] = -32767
	return out
}

type fixture struct {
	timeName string
	units    string
	times    any
	vars     []Variable
	packT2M  bool
}

func writeFixture(t *testing.T, path string, f fixture) {
	t.Helper()
	w, err := cdf.OpenWriter(path)
	require.NoError(t, err)

	cube := []string{f.timeName, "latitude", "longitude"}
	require.NoError(t, w.AddVar("latitude", api.Variable{
		Values:     lats,
		Dimensions: []string{"latitude"},
		Attributes: attrs(t, map[string]any{"units": "degrees_north"}),
	}))
	require.NoError(t, w.AddVar("longitude", api.Variable{
		Values:     lons,
		Dimensions: []string{"longitude"},
		Attributes: attrs(t, map[string]any{"units": "degrees_east"}),
	}))
	require.NoError(t, w.AddVar(f.timeName, api.Variable{
		Values:     f.times,
		Dimensions: []string{f.timeName},
		Attributes: attrs(t, map[string]any{"units": f.units}),
	}))

	for _, v := range f.vars {
		vr := api.Variable{
			Values:     grid(float32(v) * 10),
			Dimensions: cube,
			Attributes: attrs(t, map[string]any{"long_name": v.String()}),
		}
		if v == Temperature2M && f.packT2M {
			vr.Values = packedTemperature()
			vr.Attributes = attrs(t, map[string]any{
				"scale_factor": 0.01,
				"add_offset":   273.15,
				"_FillValue":   int16(-32767),
			})
		}
		require.NoError(t, w.AddVar(v.String(), vr))
	}
	require.NoError(t, w.Close())
}

func hoursSince1900() []int32 {
	out := make([]int32, nSteps)
	for k := range out {
		out[k] = int32(day0.Sub(epoch)/time.Hour) + int32(k)
	}
	return out
}

func secondsSince1970() []float64 {
	out := make([]float64, nSteps)
	for k := range out {
		out[k] = float64(day0.Unix() + int64(k)*3600)
	}
	return out
}

var allVariables = []Variable{
	Temperature2M, Dewpoint2M, ZonalWind10M, MeridionalWind10M,
	SurfaceSolarRadiation, SurfaceThermalRadiation, TotalPrecipitation, Snowfall,
}

func fullFile(t *testing.T, dir string) string {
	path := filepath.Join(dir, "era5-land.nc")
	writeFixture(t, path, fixture{
		timeName: "time",
		units:    "hours since 1900-01-01 00:00:00.0",
		times:    hoursSince1900(),
		vars:     allVariables,
		packT2M:  true,
	})
	return path
}

func allDays() met.DateRange {
	return met.DateRange{Start: day0, End: day0.AddDate(0, 0, 1)}
}

func TestScanner_NearestCellAndUnpacking(t *testing.T) {
	sc, err := NewScanner(fullFile(t, t.TempDir()), point)
	require.NoError(t, err)
	defer sc.Close()

	assert.Equal(t, met.Location{Lat: 45.0, Lon: -93.0}, sc.Cell())

	var recs []Record
	for sc.Scan() {
		recs = append(recs, sc.Record())
	}
	require.NoError(t, sc.Err())
	require.Len(t, recs, nSteps)

	for k, rec := range recs {
		assert.Equal(t, day0.Add(time.Duration(k)*time.Hour), rec.Time)
		assert.InDelta(t, float64(Snowfall)*10+float64(k), rec.Values[Snowfall], 1e-6)
		if k == 2 {
			assert.True(t, math.IsNaN(rec.Values[Temperature2M]))
			continue
		}
		assert.InDelta(t, 273.15+float64(k), rec.Values[Temperature2M], 1e-9)
	}
}

func TestScanner_Restrict(t *testing.T) {
	sc, err := NewScanner(fullFile(t, t.TempDir()), point)
	require.NoError(t, err)
	defer sc.Close()

	sc.Restrict(met.DateRange{Start: day0.Add(time.Hour), End: day0.Add(3 * time.Hour)})
	var times []time.Time
	for sc.Scan() {
		times = append(times, sc.Record().Time)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []time.Time{day0.Add(time.Hour), day0.Add(2 * time.Hour)}, times)
}

func TestScanner_OutsideGrid(t *testing.T) {
	_, err := NewScanner(fullFile(t, t.TempDir()), met.Location{Lat: 10, Lon: 10})
	assert.ErrorIs(t, err, ErrOutsideGrid)
}

func TestReadPoint_SkipsFillValues(t *testing.T) {
	log, hook := test.NewNullLogger()
	samples, err := ReadPoint(point, allDays(), log, fullFile(t, t.TempDir()))
	require.NoError(t, err)
	require.Len(t, samples, nSteps-1)
	assert.Equal(t, day0.Add(3*time.Hour), samples[2].Time)
	assert.InDelta(t, 276.15, samples[2].TemperatureK, 1e-9)

	var extraction *met.SampleExtractionError
	found := false
	for _, e := range hook.AllEntries() {
		if err, ok := e.Data[logrus.ErrorKey].(error); ok && errors.As(err, &extraction) {
			found = true
			assert.Equal(t, 2, extraction.Index)
		}
	}
	assert.True(t, found)
}

func TestReadPoint_MergesSplitFiles(t *testing.T) {
	dir := t.TempDir()
	instant := filepath.Join(dir, "data_stream-oper_stepType-instant.nc")
	accum := filepath.Join(dir, "data_stream-oper_stepType-accum.nc")
	writeFixture(t, instant, fixture{
		timeName: "valid_time",
		units:    "seconds since 1970-01-01",
		times:    secondsSince1970(),
		vars:     allVariables[:4],
	})
	writeFixture(t, accum, fixture{
		timeName: "valid_time",
		units:    "seconds since 1970-01-01",
		times:    secondsSince1970(),
		vars:     allVariables[4:],
	})

	log, _ := test.NewNullLogger()
	samples, err := ReadPoint(point, allDays(), log, instant, accum)
	require.NoError(t, err)
	require.Len(t, samples, nSteps)
	for k, s := range samples {
		assert.Equal(t, day0.Add(time.Duration(k)*time.Hour), s.Time)
		assert.InDelta(t, float64(k), s.TemperatureK, 1e-6)
		assert.InDelta(t, float64(SurfaceSolarRadiation)*10+float64(k), s.ShortwaveAccum, 1e-6)
	}

	// Without the accumulated file every timestep is incomplete.
	samples, err = ReadPoint(point, allDays(), log, instant)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestDirSource(t *testing.T) {
	log, _ := test.NewNullLogger()

	_, err := NewDirSource(t.TempDir(), log).Sample(context.Background(), point, allDays())
	assert.Error(t, err)

	dir := t.TempDir()
	fullFile(t, dir)
	src := NewDirSource(dir, log)
	assert.Equal(t, "netcdf", src.Name())

	samples, err := src.Sample(context.Background(), point, met.DateRange{Start: day0, End: day0.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, day0, samples[0].Time)

	_, err = src.Sample(context.Background(), met.Location{Lat: -40, Lon: 100}, allDays())
	assert.ErrorIs(t, err, ErrOutsideGrid)
}

func TestParseTimeUnits(t *testing.T) {
	unit, ref, err := parseTimeUnits("hours since 1900-01-01 00:00:00.0")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, unit)
	assert.Equal(t, epoch, ref)

	unit, ref, err = parseTimeUnits("seconds since 1970-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Second, unit)
	assert.Equal(t, time.Unix(0, 0).UTC(), ref)

	_, _, err = parseTimeUnits("fortnights since 1970-01-01")
	assert.Error(t, err)
}

func TestLonDistance(t *testing.T) {
	assert.InDelta(t, 0, lonDistance(267, -93), 1e-9)
	assert.InDelta(t, 0.2, lonDistance(359.9, 0.1), 1e-9)
	assert.InDelta(t, 180, lonDistance(0, 180), 1e-9)
}
