package baas

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/core/sqlid"
	"github.com/stratobase/stratobase/meta"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type columnRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ColumnType  meta.ColumnType `json:"columnType"`
	Required    bool            `json:"required"`
}

type createTableRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Columns     []columnRequest `json:"columns"`
}

type addColumnRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ColumnType  meta.ColumnType `json:"columnType"`
}

const columnTypeEnum = `["INTEGER", "FLOAT", "TEXT", "BOOLEAN", "DATETIME"]`

const columnProperties = `
	"name": {"type": "string", "minLength": 1, "maxLength": 63},
	"description": {"type": ["string", "null"]},
	"columnType": {"type": "string", "enum": ` + columnTypeEnum + `},
	"required": {"type": "boolean"}
`

var (
	createProjectSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1, "maxLength": 63},
			"description": {"type": ["string", "null"]}
		},
		"required": ["name"]
	}`)

	createTableSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1, "maxLength": 63},
			"description": {"type": ["string", "null"]},
			"columns": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {` + columnProperties + `},
					"required": ["name", "columnType", "required"]
				}
			}
		},
		"required": ["name", "columns"]
	}`)

	addColumnSchema = mustSchema(`{
		"type": "object",
		"properties": {` + columnProperties + `},
		"required": ["name", "columnType"]
	}`)
)

func mustSchema(document string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		panic(err)
	}
	return schema
}

// decodeValidated reads the request body, validates it against schema and
// unmarshals it into out.
func decodeValidated(r *http.Request, schema *gojsonschema.Schema, out interface{}) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return baaserr.NewValidationError("body", "request body is required")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return baaserr.NewValidationError("body", "request body is not valid JSON")
	}
	if !result.Valid() {
		validation := &baaserr.ValidationError{}
		for _, desc := range result.Errors() {
			validation.Fields = append(validation.Fields, baaserr.FieldError{
				Field:    desc.Field(),
				Messages: []string{desc.Description()},
			})
		}
		return validation
	}
	return json.Unmarshal(raw, out)
}

// validName enforces the name grammar shared by projects, tables and
// columns.
func validName(field, name string) error {
	if !sqlid.IsValidName(name) {
		return baaserr.NewValidationError(field,
			"must not start with a digit and may only contain letters, digits, underscores, spaces and hyphens")
	}
	return nil
}
