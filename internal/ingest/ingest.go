// Package ingest decodes task and user datasets supplied by external data sources.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"perfline/internal/domain"
)

// ErrNotSequence is returned when the tasks member of a dataset is missing or not an array.
var ErrNotSequence = errors.New("tasks must be an array")

// SchemaError lists every structural violation found in a dataset.
type SchemaError struct {
	Issues []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid dataset: %s", strings.Join(e.Issues, "; "))
}

// Dataset is the unit of import: tasks plus the users they are assigned to.
type Dataset struct {
	Tasks []domain.Task `json:"tasks"`
	Users []domain.User `json:"users,omitempty"`
}

const datasetSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "status"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "title": { "type": ["string", "null"] },
          "status": { "enum": ["not_started", "in_progress", "completed", "overdue", "blocked"] },
          "assigned_to": { "type": ["string", "null"] },
          "project": { "type": ["string", "null"] },
          "vertical": { "type": ["string", "null"] },
          "department": { "type": ["string", "null"] },
          "assigned_date": { "type": ["string", "null"] },
          "created_at": { "type": ["string", "null"] },
          "updated_at": { "type": ["string", "null"] },
          "due_date": { "type": ["string", "null"] },
          "completed_date": { "type": ["string", "null"] },
          "rating": { "type": ["number", "null"] },
          "actual_hours": { "type": ["number", "null"] }
        }
      }
    },
    "users": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "role"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "name": { "type": ["string", "null"] },
          "email": { "type": ["string", "null"] },
          "role": { "enum": ["admin", "manager", "employee"] },
          "department": { "type": ["string", "null"] },
          "manager_id": { "type": ["string", "null"] }
        }
      }
    }
  }
}`

var datasetSchemaLoader = gojsonschema.NewStringLoader(datasetSchemaJSON)

// Decode validates raw JSON against the dataset schema and decodes it. A bare array is read
// as the tasks of a dataset without users. Date strings are not checked here; malformed
// dates are data-quality defects reported by the integrity validator.
func Decode(raw []byte) (Dataset, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Dataset{}, ErrNotSequence
	}
	if raw[0] == '[' {
		raw = append(append([]byte(`{"tasks":`), raw...), '}')
	} else if raw[0] != '{' {
		return Dataset{}, ErrNotSequence
	}

	result, err := gojsonschema.Validate(datasetSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	if !result.Valid() {
		var issues []string
		for _, re := range result.Errors() {
			if notSequence(re) {
				return Dataset{}, ErrNotSequence
			}
			issues = append(issues, re.String())
		}
		return Dataset{}, &SchemaError{Issues: issues}
	}

	var ds Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	if ds.Tasks == nil {
		ds.Tasks = []domain.Task{}
	}
	return ds, nil
}

// DecodeReader reads r fully and decodes it with Decode.
func DecodeReader(r io.Reader) (Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset: %w", err)
	}
	return Decode(raw)
}

func notSequence(re gojsonschema.ResultError) bool {
	switch re.Type() {
	case "invalid_type":
		return re.Field() == "tasks"
	case "required":
		return re.Details()["property"] == "tasks"
	}
	return false
}
