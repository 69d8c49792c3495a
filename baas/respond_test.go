package baas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratobase/stratobase/meta"
)

func TestGeneratedColumnResponses(t *testing.T) {
	responses := generatedColumnResponses()
	require.Len(t, responses, 4)

	byIdentifier := map[string]GeneratedColumnResponse{}
	for _, response := range responses {
		byIdentifier[response.PgColumnIdentifier] = response
	}

	id := byIdentifier["id"]
	assert.Equal(t, meta.ColumnTypeInteger, id.ColumnType)
	assert.True(t, id.Primary)
	assert.True(t, id.Required)

	assert.Equal(t, meta.ColumnTypeDatetime, byIdentifier["created_at"].ColumnType)
	assert.Equal(t, meta.ColumnTypeDatetime, byIdentifier["updated_at"].ColumnType)
	assert.Equal(t, meta.ColumnTypeText, byIdentifier["creator"].ColumnType)
	assert.False(t, byIdentifier["creator"].Primary)
}

func TestToTableResponse(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	table := meta.Table{
		ID:                3,
		ProjectID:         1,
		Name:              "Employee List",
		PgTableIdentifier: "employee_list",
		CreatedAt:         now,
		UpdatedAt:         now,
		Columns: []meta.Column{{
			ID:                 9,
			TableID:            3,
			Name:               "Full Name",
			ColumnType:         meta.ColumnTypeText,
			PgColumnIdentifier: "full_name",
			Required:           true,
			CreatedAt:          now,
			UpdatedAt:          now,
		}},
	}

	response := toTableResponse(table)
	assert.Equal(t, "employee_list", response.PgTableIdentifier)
	assert.Equal(t, "2024-05-01T12:00:00Z", response.CreatedAt)
	require.Len(t, response.Columns, 1)
	assert.Equal(t, "full_name", response.Columns[0].PgColumnIdentifier)
	assert.Len(t, response.GeneratedColumns, 4)
}
