package proxy_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/proxy"
)

func parseDocument(t *testing.T, raw string) interface{} {
	t.Helper()
	var document interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &document))
	return document
}

func TestCheckNoGeneratedColumns(t *testing.T) {
	clean := parseDocument(t, `{"full_name":"Jo","age":30}`)
	assert.NoError(t, proxy.CheckNoGeneratedColumns(http.MethodPost, clean))

	dirty := parseDocument(t, `{"full_name":"Jo","creator":"x@y.z","id":4}`)
	err := proxy.CheckNoGeneratedColumns(http.MethodPost, dirty)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, baaserr.Status(err))
	assert.Contains(t, err.Error(), "'creator'")
	assert.Contains(t, err.Error(), "'id'")
}

func TestCheckNoGeneratedColumnsPutAllowsID(t *testing.T) {
	document := parseDocument(t, `{"id":4,"full_name":"Jo"}`)
	assert.NoError(t, proxy.CheckNoGeneratedColumns(http.MethodPut, document))

	document = parseDocument(t, `{"id":4,"updated_at":"2024-01-01"}`)
	assert.Error(t, proxy.CheckNoGeneratedColumns(http.MethodPut, document))
}

func TestCheckNoGeneratedColumnsArray(t *testing.T) {
	document := parseDocument(t, `[{"full_name":"Jo"},{"created_at":"2024-01-01"}]`)
	err := proxy.CheckNoGeneratedColumns(http.MethodPost, document)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'created_at'")
}

func TestFillRequiredColumns(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	document := parseDocument(t, `{"full_name":"Jo"}`)
	proxy.FillRequiredColumns(document, "jo@example.com", now)
	row := document.(map[string]interface{})
	assert.Equal(t, "jo@example.com", row["creator"])
	assert.Equal(t, "2024-05-01T12:30:00Z", row["updated_at"])

	batch := parseDocument(t, `[{"a":1},{"b":2}]`).([]interface{})
	proxy.FillRequiredColumns(batch, "jo@example.com", now)
	for _, element := range batch {
		assert.Equal(t, "jo@example.com", element.(map[string]interface{})["creator"])
	}
}
