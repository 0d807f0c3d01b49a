package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
)

// Format identifies a dataset encoding
type Format string

const (
	FormatAuto    Format = "auto"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatNDJSON  Format = "ndjson"
	FormatMsgpack Format = "msgpack"
)

// ErrUnknownFormat is returned when a format cannot be resolved
var ErrUnknownFormat = errors.New("unknown dataset format")

// ParseFormat validates a configured format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatCSV, FormatJSON, FormatNDJSON, FormatMsgpack:
		return f, nil
	case "jsonl":
		return FormatNDJSON, nil
	case "mpk", "msgpack.bin":
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// DetectFormat resolves a format from an object path, ignoring a .gz suffix
func DetectFormat(p string) (Format, error) {
	name := strings.TrimSuffix(strings.ToLower(p), ".gz")
	switch path.Ext(name) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".ndjson", ".jsonl":
		return FormatNDJSON, nil
	case ".msgpack", ".mpk":
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("%w: cannot detect format of %q", ErrUnknownFormat, p)
	}
}

// Decode reads a dataset in the given format. Gzip input is detected by its
// magic bytes and decompressed transparently.
func Decode(r io.Reader, format Format) (*Dataset, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip stream: %w", err)
		}
		defer gz.Close()
		br = bufio.NewReader(gz)
	}

	switch format {
	case FormatCSV:
		return decodeCSV(br)
	case FormatJSON:
		return decodeJSON(br)
	case FormatNDJSON:
		return decodeNDJSON(br)
	case FormatMsgpack:
		return decodeMsgpack(br)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// decodeCSV treats the first record as the header. Empty cells are missing.
func decodeCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []Row
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv line %d: %w", line, err)
		}
		if len(fields) > len(header) {
			return nil, fmt.Errorf("csv line %d has %d fields, header has %d", line, len(fields), len(header))
		}

		row := make(Row, len(header))
		for i, col := range header {
			if i < len(fields) && fields[i] != "" {
				row[col] = fields[i]
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}

	return New(header, rows...), nil
}

// decodeJSON expects a top-level array of objects
func decodeJSON(r io.Reader) (*Dataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var objs []map[string]any
	if err := dec.Decode(&objs); err != nil {
		if err == io.EOF {
			return New(nil), nil
		}
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return New(nil, toRows(objs)...), nil
}

// decodeNDJSON expects one object per line; blank lines are skipped
func decodeNDJSON(r io.Reader) (*Dataset, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var objs []map[string]any
	for line := 1; scanner.Scan(); line++ {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("parse ndjson line %d: %w", line, err)
		}
		objs = append(objs, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ndjson: %w", err)
	}
	return New(nil, toRows(objs)...), nil
}

// decodeMsgpack expects an array of maps
func decodeMsgpack(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read msgpack: %w", err)
	}
	if len(data) == 0 {
		return New(nil), nil
	}

	var objs []map[string]any
	if err := msgpack.Unmarshal(data, &objs); err != nil {
		return nil, fmt.Errorf("parse msgpack: %w", err)
	}
	return New(nil, toRows(objs)...), nil
}

func toRows(objs []map[string]any) []Row {
	rows := make([]Row, len(objs))
	for i, obj := range objs {
		rows[i] = Row(obj)
	}
	return rows
}
