// Package metcsv writes observation rows in the CSV layout GLM reads as its
// meteorological input.
package metcsv

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/i474232898/glm-met/internal/met"
)

// TimeLayout is the format of the time column.
const TimeLayout = "2006-01-02 15:04"

// Header is the fixed column order.
var Header = []string{"time", "AirTemp", "ShortWave", "LongWave", "RelHum", "WindSpeed", "Rain", "Snow"}

// Write writes the header followed by one record per row. Undefined values
// are written as empty cells.
func Write(w io.Writer, rows []met.ObservationRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	rec := make([]string, len(Header))
	for _, r := range rows {
		rec[0] = r.Time.Format(TimeLayout)
		rec[1] = formatFloat(r.AirTemp)
		rec[2] = formatOptional(r.ShortWave)
		rec[3] = formatOptional(r.LongWave)
		rec[4] = formatFloat(r.RelHum)
		rec[5] = formatFloat(r.WindSpeed)
		rec[6] = formatOptional(r.Rain)
		rec[7] = formatOptional(r.Snow)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Marshal renders rows to a byte slice.
func Marshal(rows []met.ObservationRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes rows to path. The file is written under a temporary name
// and renamed, so a failed run never leaves a truncated met file behind.
func WriteFile(path string, rows []met.ObservationRow) error {
	data, err := Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
