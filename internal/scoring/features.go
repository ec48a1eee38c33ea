package scoring

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Reconciler strips reserved columns from incoming records and assembles
// feature vectors in a single stable order for the whole batch.
type Reconciler struct {
	entityField string
	reserved    map[string]struct{}
	order       []string
}

// NewReconciler builds a reconciler from an optional manifest. With a
// manifest the feature order is pinned to the training-time layout;
// without one the first record of each batch dictates the order.
func NewReconciler(manifest *FeatureManifest) *Reconciler {
	reconciler := &Reconciler{
		entityField: manifest.entityField(),
		reserved:    manifest.reservedSet(),
	}
	if manifest != nil {
		reconciler.order = append([]string(nil), manifest.Features...)
	}
	return reconciler
}

// Reconcile maps each record to its entity identifier and feature vector.
// Every record in the batch must carry the exact same non-reserved field
// membership; anything else is a schema mismatch rather than a silently
// misaligned vector.
func (r *Reconciler) Reconcile(records []Record) ([]Observation, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: record batch is empty", ErrSchemaMismatch)
	}

	order := r.order
	if order == nil {
		order = r.featureOrderFrom(records[0])
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no feature fields in batch", ErrSchemaMismatch)
	}

	observations := make([]Observation, len(records))
	for idx, record := range records {
		if err := r.checkMembership(record, order, idx); err != nil {
			return nil, err
		}
		vector := make([]float64, len(order))
		for pos, field := range order {
			value, _ := record.Value(field)
			number, err := numericValue(value)
			if err != nil {
				return nil, fmt.Errorf(
					"%w: record %d field %q: %v",
					ErrTransform,
					idx,
					field,
					err,
				)
			}
			vector[pos] = number
		}
		observations[idx] = Observation{
			EntityID: r.entityIDFor(record, idx),
			Features: vector,
		}
	}
	return observations, nil
}

// FeatureOrder reports the pinned order, or nil when the batch dictates it.
func (r *Reconciler) FeatureOrder() []string {
	if r.order == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

func (r *Reconciler) featureOrderFrom(record Record) []string {
	order := make([]string, 0, record.Len())
	for _, key := range record.Keys() {
		if _, isReserved := r.reserved[key]; isReserved {
			continue
		}
		order = append(order, key)
	}
	return order
}

func (r *Reconciler) checkMembership(record Record, order []string, idx int) error {
	for _, field := range order {
		if _, ok := record.Value(field); !ok {
			return fmt.Errorf(
				"%w: record %d is missing feature field %q",
				ErrSchemaMismatch,
				idx,
				field,
			)
		}
	}
	expected := make(map[string]struct{}, len(order))
	for _, field := range order {
		expected[field] = struct{}{}
	}
	for _, key := range record.Keys() {
		if _, isReserved := r.reserved[key]; isReserved {
			continue
		}
		if _, ok := expected[key]; !ok {
			return fmt.Errorf(
				"%w: record %d has unexpected feature field %q",
				ErrSchemaMismatch,
				idx,
				key,
			)
		}
	}
	return nil
}

func (r *Reconciler) entityIDFor(record Record, idx int) string {
	if value, ok := record.Value(r.entityField); ok {
		return formatScalar(value)
	}
	return strconv.Itoa(idx)
}

func numericValue(value any) (float64, error) {
	switch v := value.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	default:
		return 0.0, fmt.Errorf("non-numeric value %v", value)
	}
}
