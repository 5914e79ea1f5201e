package codec

import (
	"encoding/json"
	"fmt"
)

// RawRecord is an inbound surveillance message as it arrives on the
// raw feed pattern subscription. Only
// Identifier and Timestamp are required; the rest are optional
// per-field updates.
type RawRecord struct {
	Identifier string   `json:"icao24"`
	Timestamp  float64  `json:"timestamp"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Altitude   *float64 `json:"altitude,omitempty"`
	Callsign   *string  `json:"callsign,omitempty"`
	Track      *float64 `json:"track,omitempty"`
	TypeCode   *string  `json:"typecode,omitempty"`
	Registration *string `json:"registration,omitempty"`
}

// DecodeRawRecord parses one inbound raw-feed message. Malformed input
// is the caller's responsibility to log-and-drop; this function only
// reports the parse error.
func DecodeRawRecord(raw []byte) (RawRecord, error) {
	var rec RawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RawRecord{}, fmt.Errorf("decode raw record: %w", err)
	}
	if rec.Identifier == "" {
		return RawRecord{}, fmt.Errorf("decode raw record: missing icao24")
	}
	return rec, nil
}

// CoordinateEvent is the payload published on the "coordinate" topic.
type CoordinateEvent struct {
	Identifier string  `json:"icao24"`
	Timestamp  float64 `json:"timestamp"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

// AltitudeEvent is the payload published on the "altitude" topic.
type AltitudeEvent struct {
	Identifier string  `json:"icao24"`
	Timestamp  float64 `json:"timestamp"`
	Altitude   float64 `json:"altitude"`
}

// EncodeCoordinateEvent renders e for publish on the bus.
func EncodeCoordinateEvent(e CoordinateEvent) []byte {
	out, _ := json.Marshal(e)
	return out
}

// EncodeAltitudeEvent renders e for publish on the bus.
func EncodeAltitudeEvent(e AltitudeEvent) []byte {
	out, _ := json.Marshal(e)
	return out
}

// HistoryRow is one append-only row destined for the history engine.
type HistoryRow struct {
	Identifier   string   `json:"identifier" parquet:"name=identifier, type=BYTE_ARRAY, convertedtype=UTF8"`
	TimestampMs  int64    `json:"timestamp_ms" parquet:"name=timestamp_ms, type=INT64"`
	Latitude     float64  `json:"latitude" parquet:"name=latitude, type=DOUBLE"`
	Longitude    float64  `json:"longitude" parquet:"name=longitude, type=DOUBLE"`
	Altitude     *float64 `json:"altitude,omitempty" parquet:"name=altitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	Callsign     *string  `json:"callsign,omitempty" parquet:"name=callsign, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Track        *float64 `json:"track,omitempty" parquet:"name=track, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// ControlCommandType identifies the kind of control envelope on
// "history:control".
type ControlCommandType string

const (
	CommandListTables  ControlCommandType = "ListTables"
	CommandDeleteRows  ControlCommandType = "DeleteRows"
)

// ControlCommand is the JSON shape published on "history:control".
// Decode with DecodeControlCommand after inspecting Type.
type ControlCommand struct {
	Type     ControlCommandType `json:"type"`
	SenderID string             `json:"sender_id"`

	// DeleteRows fields.
	Table     string `json:"table,omitempty"`
	Predicate string `json:"predicate,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// ControlResponseType identifies the kind of response envelope on
// "history:control:response:<sender_id>".
type ControlResponseType string

const (
	ResponseTableList     ControlResponseType = "TableList"
	ResponseDeleteOutput  ControlResponseType = "DeleteOutput"
	ResponseCommandFailed ControlResponseType = "CommandFailed"
)

// TableInfo describes one table in a TableList response.
type TableInfo struct {
	Name       string `json:"name"`
	URI        string `json:"uri"`
	Version    int64  `json:"version"`
	SchemaJSON string `json:"schema_json"`
}

// ControlResponse is the JSON shape published in reply to a
// ControlCommand.
type ControlResponse struct {
	Type ControlResponseType `json:"type"`

	// TableList fields.
	Tables []TableInfo `json:"tables,omitempty"`

	// DeleteOutput fields.
	AffectedRows int               `json:"affected_rows,omitempty"`
	PreviewJSON  []json.RawMessage `json:"preview_json,omitempty"`

	// CommandFailed fields.
	Error string `json:"error,omitempty"`
}

// EncodeControlCommand renders cmd for publish.
func EncodeControlCommand(cmd ControlCommand) ([]byte, error) {
	out, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode control command: %w", err)
	}
	return out, nil
}

// DecodeControlCommand parses an inbound control envelope.
func DecodeControlCommand(raw []byte) (ControlCommand, error) {
	var cmd ControlCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return ControlCommand{}, fmt.Errorf("decode control command: %w", err)
	}
	return cmd, nil
}

// EncodeControlResponse renders resp for publish.
func EncodeControlResponse(resp ControlResponse) ([]byte, error) {
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode control response: %w", err)
	}
	return out, nil
}

// DecodeControlResponse parses an inbound control response.
func DecodeControlResponse(raw []byte) (ControlResponse, error) {
	var resp ControlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ControlResponse{}, fmt.Errorf("decode control response: %w", err)
	}
	return resp, nil
}

// ResponseChannel returns the bus channel a control command's
// response is published on.
func ResponseChannel(senderID string) string {
	return "history:control:response:" + senderID
}
