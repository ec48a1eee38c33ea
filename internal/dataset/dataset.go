// Package dataset reads and writes the columnar telemetry layout the
// training side produces: reserved columns plus the sensor feature
// columns, one row per machine observation.
package dataset

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// TelemetryRow mirrors one row of the persisted telemetry dataset.
type TelemetryRow struct {
	DtTruncated  string  `parquet:"dt_truncated" json:"dt_truncated"`
	MachineID    int64   `parquet:"machineID" json:"machineID"`
	Volt         float64 `parquet:"volt" json:"volt"`
	Rotate       float64 `parquet:"rotate" json:"rotate"`
	Pressure     float64 `parquet:"pressure" json:"pressure"`
	Vibration    float64 `parquet:"vibration" json:"vibration"`
	Model        string  `parquet:"model" json:"model"`
	ModelEncoded int64   `parquet:"model_encoded" json:"model_encoded"`
	Failure      string  `parquet:"failure" json:"failure"`
	LabelE       int64   `parquet:"label_e" json:"label_e"`
}

// Record flattens the row into the wire shape score requests carry.
// Reserved columns travel too; the scoring side strips them.
func (r TelemetryRow) Record() map[string]any {
	return map[string]any{
		"dt_truncated":  r.DtTruncated,
		"machineID":     r.MachineID,
		"volt":          r.Volt,
		"rotate":        r.Rotate,
		"pressure":      r.Pressure,
		"vibration":     r.Vibration,
		"model":         r.Model,
		"model_encoded": r.ModelEncoded,
		"failure":       r.Failure,
		"label_e":       r.LabelE,
	}
}

// ReadRows loads up to limit rows from a parquet dataset. A limit of zero
// or less loads everything.
func ReadRows(path string, limit int) ([]TelemetryRow, error) {
	rows, err := parquet.ReadFile[TelemetryRow](path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %q: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset %q has no rows", path)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// WriteRows persists rows as a parquet dataset. Used by tooling and tests.
func WriteRows(path string, rows []TelemetryRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("refusing to write empty dataset %q", path)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("writing dataset %q: %w", path, err)
	}
	return nil
}

// Records converts rows into the request batch shape.
func Records(rows []TelemetryRow) []map[string]any {
	out := make([]map[string]any, len(rows))
	for idx, row := range rows {
		out[idx] = row.Record()
	}
	return out
}
