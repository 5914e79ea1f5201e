package history

import "testing"

func TestFormatSchemaTreeMarksLastFieldWithCorner(t *testing.T) {
	out := FormatSchemaTree(HistoryRowSchemaJSON)

	if out == HistoryRowSchemaJSON {
		t.Fatal("expected a rendered tree, got raw JSON back")
	}
	if want := "└─ track: double (nullable)\n"; out[len(out)-len(want):] != want {
		t.Fatalf("last line = %q, want suffix %q", out, want)
	}
	if want := "├─ identifier: utf8\n"; out[:len(want)] != want {
		t.Fatalf("first line = %q, want prefix %q", out, want)
	}
}

func TestFormatSchemaTreeInvalidJSONPassesThrough(t *testing.T) {
	if out := FormatSchemaTree("not json"); out != "not json" {
		t.Fatalf("FormatSchemaTree(invalid) = %q, want passthrough", out)
	}
}
