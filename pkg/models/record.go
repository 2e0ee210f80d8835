// Package models provides the data structures moved through an ingestion run.
//
// A Record is one event exactly as the source returned it. A Batch is the
// text-coerced form of the records fetched by one request, which is what gets
// handed to a loader. Every value becomes a string so the destination never
// sees a column change type between batches.
package models

import (
	"fmt"
	"sort"
	"strconv"

	gojson "github.com/goccy/go-json"

	jsonpool "github.com/ajitpratap0/acled-bq/pkg/json"
)

// Record is an opaque mapping of field name to value for one source event.
// The field set is neither fixed nor validated.
type Record map[string]interface{}

// Row is a Record after text coercion.
type Row map[string]string

// Batch is an ordered sequence of text-coerced rows fetched in one request.
type Batch struct {
	// Rows holds the coerced records in source order
	Rows []Row
	// Columns lists every field seen in the batch in first-seen order
	Columns []string
}

// NewBatch coerces every field of every record to text and assembles a Batch.
// Column order follows the order in which fields are first seen; fields within
// one record are visited in sorted order because map iteration is random.
func NewBatch(records []Record) (*Batch, error) {
	b := &Batch{
		Rows:    make([]Row, 0, len(records)),
		Columns: make([]string, 0),
	}
	seen := make(map[string]struct{})

	for i, rec := range records {
		row := make(Row, len(rec))
		for _, key := range sortedKeys(rec) {
			text, err := ToText(rec[key])
			if err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", i, key, err)
			}
			row[key] = text
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				b.Columns = append(b.Columns, key)
			}
		}
		b.Rows = append(b.Rows, row)
	}

	return b, nil
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// ToText renders a decoded JSON value as text.
//
// Strings are returned unchanged and numbers keep their literal form when the
// decoder was configured with UseNumber. Null becomes the empty string.
// Objects and arrays are rendered as compact JSON.
func ToText(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case gojson.Number:
		return val.String(), nil
	case fmt.Stringer:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case map[string]interface{}, []interface{}:
		return jsonpool.Compact(val)
	default:
		return fmt.Sprint(val), nil
	}
}

func sortedKeys(rec Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
