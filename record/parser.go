package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"github.com/gurre/sqs-s3-pipeline/fetcher"
)

// Parser converts downloaded artifacts, or the message's inline payload
// when no artifacts exist, into schema-validated records. Implementations
// decide how raw bytes become structured records; schema validation is
// applied uniformly via Schema.Apply.
//
// The default policy fails the whole message on the first violating
// record. Implementations wanting per-record tolerance can skip failing
// records and return the survivors.
type Parser interface {
	Parse(body map[string]any, artifacts []fetcher.Artifact, inline map[string]any, schema Schema) ([]Record, error)
}

// JSONParser is the default Parser: each artifact is UTF-8 JSON holding
// either a single object or an array of objects; the resulting records are
// flattened in artifact order. With no artifacts, the inline payload is
// treated as a single-record sequence.
type JSONParser struct{}

// NewJSONParser creates a JSONParser.
func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

// Parse implements Parser.
func (p *JSONParser) Parse(body map[string]any, artifacts []fetcher.Artifact, inline map[string]any, schema Schema) ([]Record, error) {
	if len(artifacts) == 0 {
		if inline == nil {
			return nil, ErrNoData
		}
		rec, err := schema.Apply(Record(inline), 0)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}

	var records []Record
	for _, artifact := range artifacts {
		data, err := os.ReadFile(artifact.Path)
		if err != nil {
			return nil, &MalformedError{Source: artifact.Path, Err: err}
		}

		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, &MalformedError{Source: artifact.Pointer.Key, Err: err}
		}

		switch v := decoded.(type) {
		case map[string]any:
			rec, err := schema.Apply(Record(v), len(records))
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		case []any:
			for _, elem := range v {
				obj, ok := elem.(map[string]any)
				if !ok {
					return nil, &MalformedError{
						Source: artifact.Pointer.Key,
						Err:    fmt.Errorf("array element %d is %T, not an object", len(records), elem),
					}
				}
				rec, err := schema.Apply(Record(obj), len(records))
				if err != nil {
					return nil, err
				}
				records = append(records, rec)
			}
		default:
			return nil, &MalformedError{
				Source: artifact.Pointer.Key,
				Err:    fmt.Errorf("top-level value is %T, not an object or array", decoded),
			}
		}
	}

	return records, nil
}

// CSVParser is an alternative Parser for comma-separated artifacts. The
// first row is the header; every following row becomes one record keyed by
// header name, with values coerced to the schema's field types.
type CSVParser struct {
	Comma rune // Field separator; ',' when zero
}

// NewCSVParser creates a CSVParser with the default comma separator.
func NewCSVParser() *CSVParser {
	return &CSVParser{Comma: ','}
}

// Parse implements Parser.
func (p *CSVParser) Parse(body map[string]any, artifacts []fetcher.Artifact, inline map[string]any, schema Schema) ([]Record, error) {
	if len(artifacts) == 0 {
		if inline == nil {
			return nil, ErrNoData
		}
		rec, err := schema.Apply(Record(inline), 0)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}

	var records []Record
	for _, artifact := range artifacts {
		file, err := os.Open(artifact.Path)
		if err != nil {
			return nil, &MalformedError{Source: artifact.Path, Err: err}
		}

		reader := csv.NewReader(file)
		if p.Comma != 0 {
			reader.Comma = p.Comma
		}

		header, err := reader.Read()
		if err != nil {
			_ = file.Close()
			return nil, &MalformedError{Source: artifact.Pointer.Key, Err: fmt.Errorf("reading header: %w", err)}
		}

		for {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = file.Close()
				return nil, &MalformedError{Source: artifact.Pointer.Key, Err: err}
			}

			rec := make(Record, len(header))
			for i, name := range header {
				if i < len(row) {
					rec[name] = row[i]
				}
			}

			validated, err := schema.Apply(rec, len(records))
			if err != nil {
				_ = file.Close()
				return nil, err
			}
			records = append(records, validated)
		}

		if err := file.Close(); err != nil {
			return nil, &MalformedError{Source: artifact.Path, Err: err}
		}
	}

	return records, nil
}
