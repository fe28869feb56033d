package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"escrowmarket/storage/eventlog"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

var csvHeader = []string{"id", "invocation_id", "sequence", "type", "listing", "seller", "buyer", "item_id", "price", "variant", "created_at"}

// EventsCSV builds a CSV export for the supplied event log entries and returns
// the serialised data alongside a SHA-256 checksum of the payload.
func EventsCSV(entries []eventlog.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, entry := range entries {
		attrs := entry.Attributes
		record := []string{
			strconv.FormatUint(entry.ID, 10),
			entry.InvocationID,
			strconv.Itoa(entry.Sequence),
			entry.Type,
			attrs["listing"],
			attrs["seller"],
			attrs["buyer"],
			attrs["itemId"],
			attrs["price"],
			attrs["variant"],
			entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

// EventsJSONL builds a JSON Lines export for the supplied entries and returns
// the serialised payload alongside a checksum.
func EventsJSONL(entries []eventlog.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, entry := range entries {
		payload := map[string]interface{}{
			"id":           entry.ID,
			"invocationId": entry.InvocationID,
			"sequence":     entry.Sequence,
			"type":         entry.Type,
			"attributes":   entry.Attributes,
			"createdAt":    entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}

// Write encodes entries in format to w and returns the checksum.
func Write(w io.Writer, format Format, entries []eventlog.Entry) (string, error) {
	var (
		data     []byte
		checksum string
		err      error
	)
	switch format {
	case FormatCSV:
		data, checksum, err = EventsCSV(entries)
	case FormatJSONL:
		data, checksum, err = EventsJSONL(entries)
	default:
		return "", fmt.Errorf("exports: unsupported format %q", format)
	}
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		return "", err
	}
	return checksum, nil
}

func checksummed(data []byte) ([]byte, string, error) {
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
