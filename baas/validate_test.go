package baas

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/meta"
)

func postBody(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeCreateProjectRequest(t *testing.T) {
	var request createProjectRequest
	err := decodeValidated(postBody(`{"name":"Acme Corp","description":"crm data"}`),
		createProjectSchema, &request)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", request.Name)
	assert.Equal(t, "crm data", request.Description)
}

func TestDecodeCreateProjectRequestRejectsMissingName(t *testing.T) {
	var request createProjectRequest
	err := decodeValidated(postBody(`{"description":"crm data"}`),
		createProjectSchema, &request)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, baaserr.Status(err))
}

func TestDecodeCreateTableRequest(t *testing.T) {
	var request createTableRequest
	err := decodeValidated(postBody(`{
		"name": "Employee List",
		"columns": [
			{"name": "Full Name", "columnType": "TEXT", "required": true},
			{"name": "Age", "columnType": "INTEGER", "required": false}
		]
	}`), createTableSchema, &request)
	require.NoError(t, err)
	require.Len(t, request.Columns, 2)
	assert.Equal(t, meta.ColumnTypeText, request.Columns[0].ColumnType)
	assert.True(t, request.Columns[0].Required)
}

func TestDecodeCreateTableRequestRejectsUnknownColumnType(t *testing.T) {
	var request createTableRequest
	err := decodeValidated(postBody(`{
		"name": "Employee List",
		"columns": [{"name": "Blob", "columnType": "BYTEA", "required": false}]
	}`), createTableSchema, &request)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, baaserr.Status(err))
}

func TestDecodeValidatedRejectsMalformedJSON(t *testing.T) {
	var request createProjectRequest
	err := decodeValidated(postBody(`{not json`), createProjectSchema, &request)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, baaserr.Status(err))

	err = decodeValidated(postBody(``), createProjectSchema, &request)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, baaserr.Status(err))
}

func TestValidName(t *testing.T) {
	assert.NoError(t, validName("name", "Employee List"))
	assert.Error(t, validName("name", "1st Table"))
	assert.Error(t, validName("name", "drop; table"))
}
