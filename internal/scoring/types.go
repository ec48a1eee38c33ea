package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Record is one flat telemetry observation: field name -> scalar value.
// Field order follows the document order of the incoming JSON object,
// because the feature vector is assembled in that order when no manifest
// pins it explicitly.
type Record struct {
	keys   []string
	values map[string]any
}

func (r Record) Len() int { return len(r.keys) }

func (r Record) Keys() []string { return r.keys }

func (r Record) Value(name string) (any, bool) {
	value, ok := r.values[name]
	return value, ok
}

// Observation is one reconciled record: the entity identifier plus the
// feature vector the pipeline consumes.
type Observation struct {
	EntityID string
	Features []float64
}

// Envelope is the wire response shape. Result holds either an ordered
// array of stringified predictions, an entity-id keyed map of them, or a
// single error message string. Both success and failure travel through
// the same field.
type Envelope struct {
	Result any `json:"result"`
}

// DecodeRecords parses a JSON array of flat objects while preserving each
// object's key order. Nested values, non-object elements, trailing data
// and empty batches are all decode failures.
func DecodeRecords(raw []byte) ([]Record, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	if err := expectDelim(decoder, '['); err != nil {
		return nil, err
	}

	var records []Record
	for decoder.More() {
		record, err := decodeRecord(decoder)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := expectDelim(decoder, ']'); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after record array", ErrDecode)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: record batch is empty", ErrDecode)
	}
	return records, nil
}

func decodeRecord(decoder *json.Decoder) (Record, error) {
	if err := expectDelim(decoder, '{'); err != nil {
		return Record{}, err
	}
	record := Record{values: map[string]any{}}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		key, ok := keyToken.(string)
		if !ok {
			return Record{}, fmt.Errorf("%w: unexpected token %v", ErrDecode, keyToken)
		}
		valueToken, err := decoder.Token()
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if _, nested := valueToken.(json.Delim); nested {
			return Record{}, fmt.Errorf(
				"%w: field %q is not a scalar value",
				ErrDecode,
				key,
			)
		}
		if _, seen := record.values[key]; !seen {
			record.keys = append(record.keys, key)
		}
		record.values[key] = valueToken
	}
	if err := expectDelim(decoder, '}'); err != nil {
		return Record{}, err
	}
	return record, nil
}

func expectDelim(decoder *json.Decoder, want rune) error {
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	delim, ok := token.(json.Delim)
	if !ok || rune(delim) != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrDecode, want, token)
	}
	return nil
}

// formatScalar renders a decoded JSON scalar the way the wire contract
// stringifies identifiers and predictions.
func formatScalar(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
