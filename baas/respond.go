package baas

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/stratobase/stratobase/meta"
	"github.com/stratobase/stratobase/provision"
)

// ProjectResponse is the logical project descriptor returned by the
// control-plane endpoints. Physical identifiers are never exposed.
type ProjectResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	WorkspaceID int64  `json:"workspaceId"`
	CreatorID   int64  `json:"creatorId"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// ColumnResponse describes one user-defined column.
type ColumnResponse struct {
	ID                 int64           `json:"id"`
	TableID            int64           `json:"tableId"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	ColumnType         meta.ColumnType `json:"columnType"`
	PgColumnIdentifier string          `json:"pgColumnIdentifier"`
	Required           bool            `json:"required"`
	CreatedAt          string          `json:"createdAt"`
	UpdatedAt          string          `json:"updatedAt"`
}

// GeneratedColumnResponse describes one of the four implicit columns.
type GeneratedColumnResponse struct {
	Name               string          `json:"name"`
	ColumnType         meta.ColumnType `json:"columnType"`
	PgColumnIdentifier string          `json:"pgColumnIdentifier"`
	Required           bool            `json:"required"`
	Primary            bool            `json:"primary"`
}

// TableResponse describes a table with both its user-defined and generated
// columns.
type TableResponse struct {
	ID                int64                     `json:"id"`
	ProjectID         int64                     `json:"projectId"`
	Name              string                    `json:"name"`
	Description       string                    `json:"description"`
	PgTableIdentifier string                    `json:"pgTableIdentifier"`
	Columns           []ColumnResponse          `json:"columns"`
	GeneratedColumns  []GeneratedColumnResponse `json:"generatedColumns"`
	CreatedAt         string                    `json:"createdAt"`
	UpdatedAt         string                    `json:"updatedAt"`
}

// APITokenResponse describes a project's external access token.
type APITokenResponse struct {
	ID                int64  `json:"id"`
	ProjectID         int64  `json:"projectId"`
	Token             string `json:"token"`
	ReadOnly          bool   `json:"readOnly"`
	GeneratedByUserID int64  `json:"generatedByUserId"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toProjectResponse(project meta.Project) ProjectResponse {
	return ProjectResponse{
		ID:          project.ID,
		Name:        project.Name,
		WorkspaceID: project.WorkspaceID,
		CreatorID:   project.CreatorID,
		Description: project.Description,
		CreatedAt:   timestamp(project.CreatedAt),
		UpdatedAt:   timestamp(project.UpdatedAt),
	}
}

func toColumnResponse(column meta.Column) ColumnResponse {
	return ColumnResponse{
		ID:                 column.ID,
		TableID:            column.TableID,
		Name:               column.Name,
		Description:        column.Description,
		ColumnType:         column.ColumnType,
		PgColumnIdentifier: column.PgColumnIdentifier,
		Required:           column.Required,
		CreatedAt:          timestamp(column.CreatedAt),
		UpdatedAt:          timestamp(column.UpdatedAt),
	}
}

func toTableResponse(table meta.Table) TableResponse {
	columns := make([]ColumnResponse, 0, len(table.Columns))
	for _, column := range table.Columns {
		columns = append(columns, toColumnResponse(column))
	}
	return TableResponse{
		ID:                table.ID,
		ProjectID:         table.ProjectID,
		Name:              table.Name,
		Description:       table.Description,
		PgTableIdentifier: table.PgTableIdentifier,
		Columns:           columns,
		GeneratedColumns:  generatedColumnResponses(),
		CreatedAt:         timestamp(table.CreatedAt),
		UpdatedAt:         timestamp(table.UpdatedAt),
	}
}

func generatedColumnResponses() []GeneratedColumnResponse {
	catalog := provision.GeneratedColumns()
	responses := make([]GeneratedColumnResponse, 0, len(catalog))
	for _, generated := range catalog {
		// the catalog only contains mappable types
		columnType, _ := provision.ColumnTypeForPg(generated.ColumnType)
		responses = append(responses, GeneratedColumnResponse{
			Name:               generated.Name,
			ColumnType:         columnType,
			PgColumnIdentifier: generated.Identifier,
			Required:           generated.Required,
			Primary:            generated.Primary,
		})
	}
	return responses
}

func toAPITokenResponse(token meta.APIToken) APITokenResponse {
	return APITokenResponse{
		ID:                token.ID,
		ProjectID:         token.ProjectID,
		Token:             token.Token,
		ReadOnly:          token.ReadOnly,
		GeneratedByUserID: token.GeneratedByUserID,
		CreatedAt:         timestamp(token.CreatedAt),
		UpdatedAt:         timestamp(token.UpdatedAt),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
