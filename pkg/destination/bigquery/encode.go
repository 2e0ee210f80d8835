package bigquery

import (
	"io"

	"cloud.google.com/go/bigquery"

	jsonpool "github.com/ajitpratap0/acled-bq/pkg/json"
	"github.com/ajitpratap0/acled-bq/pkg/models"
)

// writeNDJSON writes one JSON object per row. Fields absent from a row are
// omitted so they load as NULL.
func writeNDJSON(w io.Writer, rows []models.Row) error {
	return jsonpool.WriteLines(w, rows)
}

// ndjsonReader streams rows through a pipe. Closing the returned reader stops
// the writer goroutine if the consumer gives up early.
func ndjsonReader(rows []models.Row) *io.PipeReader {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeNDJSON(pw, rows))
	}()
	return pr
}

// buildSchema returns a nullable schema for columns. Columns that already
// exist in the table keep their declared type; everything else is STRING.
func buildSchema(columns []string, existing map[string]*bigquery.FieldSchema) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(columns))
	for _, col := range columns {
		if f, ok := existing[col]; ok {
			schema = append(schema, &bigquery.FieldSchema{
				Name:        f.Name,
				Type:        f.Type,
				Description: f.Description,
				Repeated:    f.Repeated,
				Required:    f.Required,
				Schema:      f.Schema,
			})
			continue
		}
		schema = append(schema, &bigquery.FieldSchema{
			Name: col,
			Type: bigquery.StringFieldType,
		})
	}
	return schema
}

// schemaFields indexes the top-level fields of a table schema by name.
func schemaFields(schema bigquery.Schema) ([]string, map[string]*bigquery.FieldSchema) {
	names := make([]string, 0, len(schema))
	fields := make(map[string]*bigquery.FieldSchema, len(schema))
	for _, f := range schema {
		names = append(names, f.Name)
		fields[f.Name] = f
	}
	return names, fields
}
