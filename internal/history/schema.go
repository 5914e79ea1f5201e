package history

import (
	"encoding/json"
	"fmt"
	"strings"
)

// schemaField is one entry of a table's stored JSON schema. This
// mirrors the shape the rest of the Delta-style log stores it in,
// rather than the parquet library's own schema representation, so
// FormatSchemaTree has no dependency on having opened a data file.
type schemaField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type tableSchema struct {
	Fields []schemaField `json:"fields"`
}

// HistoryRowSchemaJSON is the canonical schema recorded in a table's
// first metadata action, matching codec.HistoryRow's column set.
const HistoryRowSchemaJSON = `{"fields":[` +
	`{"name":"identifier","type":"utf8","nullable":false},` +
	`{"name":"timestamp_ms","type":"int64","nullable":false},` +
	`{"name":"latitude","type":"double","nullable":false},` +
	`{"name":"longitude","type":"double","nullable":false},` +
	`{"name":"altitude","type":"double","nullable":true},` +
	`{"name":"callsign","type":"utf8","nullable":true},` +
	`{"name":"track","type":"double","nullable":true}]}`

// FormatSchemaTree renders schemaJSON as a `├─`/`└─` tree, matching
// packages/tangram_history/src/tangram_history/cli.py: format_schema.
func FormatSchemaTree(schemaJSON string) string {
	var schema tableSchema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil || len(schema.Fields) == 0 {
		return schemaJSON
	}

	var b strings.Builder
	for i, f := range schema.Fields {
		connector := "├─"
		if i == len(schema.Fields)-1 {
			connector = "└─"
		}
		nullable := ""
		if f.Nullable {
			nullable = " (nullable)"
		}
		fmt.Fprintf(&b, "%s %s: %s%s\n", connector, f.Name, f.Type, nullable)
	}
	return b.String()
}
