// Package ingest decodes uploaded or on-disk log files into the newline
// separated text the pipeline scans.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxBytes is the decoded size limit used by Decode.
const DefaultMaxBytes = 10 << 20

var (
	// ErrUnsupported is returned for file extensions Decode does not handle.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrTooLarge is returned when the input, or its decompressed form,
	// exceeds the size limit.
	ErrTooLarge = errors.New("input exceeds size limit")
)

// Extensions lists every extension Decode accepts.
var Extensions = []string{".log", ".txt", ".json", ".ndjson", ".csv", ".gz", ".zst"}

// messageFields are the keys, in priority order, that hold the log text of
// a structured entry.
var messageFields = []string{"message", "msg", "log", "raw"}

// Supported reports whether name has an extension Decode accepts.
func Supported(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// Decoder converts files to text under a size limit.
type Decoder struct {
	MaxBytes int64
}

// Decode converts data to text using DefaultMaxBytes.
func Decode(name string, data []byte) (string, error) {
	return Decoder{MaxBytes: DefaultMaxBytes}.Decode(name, data)
}

// Decode converts data to one log entry per line. The format is chosen by
// the extension of name; compressed files are decoded by their inner name.
func (d Decoder) Decode(name string, data []byte) (string, error) {
	limit := d.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("%s: %w (%d bytes, limit %d)", name, ErrTooLarge, len(data), limit)
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".log", ".txt", "":
		return string(data), nil
	case ".json", ".ndjson":
		return decodeJSON(data)
	case ".csv":
		return decodeCSV(data)
	case ".gz", ".zst":
		inner, err := decompress(ext, data, limit)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		innerName := strings.TrimSuffix(name, filepath.Ext(name))
		if filepath.Ext(innerName) == "" {
			innerName += ".log"
		}
		return d.Decode(innerName, inner)
	default:
		return "", fmt.Errorf("%s: %w: %q", name, ErrUnsupported, ext)
	}
}

func decompress(ext string, data []byte, limit int64) ([]byte, error) {
	var r io.Reader
	switch ext {
	case ".gz":
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open zstd: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w (decompressed size above %d)", ErrTooLarge, limit)
	}
	return out, nil
}

// decodeJSON accepts a JSON array, an object with a "logs" array, or a
// stream of newline delimited values.
func decodeJSON(data []byte) (string, error) {
	var values []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var v json.RawMessage
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode json: %w", err)
		}
		values = append(values, v)
	}

	entries := values
	if len(values) == 1 {
		entries = unwrap(values[0])
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, entryText(e))
	}
	return strings.Join(lines, "\n"), nil
}

// unwrap expands a single top-level array or {"logs": [...]} document.
func unwrap(v json.RawMessage) []json.RawMessage {
	var arr []json.RawMessage
	if err := json.Unmarshal(v, &arr); err == nil {
		return arr
	}
	var doc struct {
		Logs []json.RawMessage `json:"logs"`
	}
	if err := json.Unmarshal(v, &doc); err == nil && doc.Logs != nil {
		return doc.Logs
	}
	return []json.RawMessage{v}
}

func entryText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return oneLine(s)
	}
	var obj map[string]any
	if err := json.Unmarshal(v, &obj); err == nil {
		for _, key := range messageFields {
			if s, ok := obj[key].(string); ok {
				return oneLine(s)
			}
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return oneLine(string(v))
	}
	return buf.String()
}

func decodeCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("decode csv: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}

	col := messageColumn(rows[0])
	if col >= 0 {
		rows = rows[1:]
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		if col >= 0 {
			if col < len(row) {
				lines = append(lines, oneLine(row[col]))
			} else {
				lines = append(lines, "")
			}
			continue
		}
		lines = append(lines, oneLine(strings.Join(row, " ")))
	}
	return strings.Join(lines, "\n"), nil
}

// messageColumn returns the index of the highest priority message column
// named in header, or -1.
func messageColumn(header []string) int {
	for _, key := range messageFields {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), key) {
				return i
			}
		}
	}
	return -1
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
