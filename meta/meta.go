/*Package meta is the durable metadata store for projects, tables, columns
and API tokens.

The records mirror what physically exists in the tenant database and are the
source of truth for the mapping between logical names and physical
identifiers. Physical DDL is never derived from these records directly; the
provisioner owns that.
*/
package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stratobase/stratobase/core/csql"
	"github.com/stratobase/stratobase/core/secrets"
)

// ColumnType is the logical type of a user-defined column.
type ColumnType string

// the supported logical column types
const (
	ColumnTypeInteger  ColumnType = "INTEGER"
	ColumnTypeFloat    ColumnType = "FLOAT"
	ColumnTypeText     ColumnType = "TEXT"
	ColumnTypeBoolean  ColumnType = "BOOLEAN"
	ColumnTypeDatetime ColumnType = "DATETIME"
)

// Valid returns true for one of the five supported logical types.
func (c ColumnType) Valid() bool {
	switch c {
	case ColumnTypeInteger, ColumnTypeFloat, ColumnTypeText, ColumnTypeBoolean, ColumnTypeDatetime:
		return true
	}
	return false
}

// Project is one logical tenant: a dedicated schema with an owning role.
type Project struct {
	ID               int64
	WorkspaceID      int64
	Name             string
	Description      string
	SchemaIdentifier string
	SchemaOwner      string
	OwnerPassword    secrets.EncryptedMessage
	CreatorID        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Table is a logical table within a project.
type Table struct {
	ID                int64
	ProjectID         int64
	Name              string
	Description       string
	PgTableIdentifier string
	CreatorID         int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Columns           []Column
}

// Column is a logical user-defined column of a table.
type Column struct {
	ID                 int64
	TableID            int64
	Name               string
	Description        string
	ColumnType         ColumnType
	PgColumnIdentifier string
	Required           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// APIToken is a project's single external access token.
type APIToken struct {
	ID                int64
	ProjectID         int64
	Token             string
	ReadOnly          bool
	GeneratedByUserID int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProjectPgDetails joins the logical project id with its physical
// identifiers. Derived read view, never persisted as such.
type ProjectPgDetails struct {
	ID               int64
	SchemaIdentifier string
	SchemaOwner      string
}

// TablePgDetails joins the logical table id with its physical identifiers.
type TablePgDetails struct {
	ID                int64
	PgTableIdentifier string
	Project           ProjectPgDetails
}

// Store provides access to the metadata records.
type Store struct {
	db *csql.DB
}

// MustNew creates the store and the metadata relations if they do not exist.
func MustNew(db *csql.DB) *Store {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `."project"
(project_id SERIAL,
workspace_id BIGINT NOT NULL,
name VARCHAR NOT NULL,
description VARCHAR NOT NULL DEFAULT '',
pg_schema_identifier VARCHAR NOT NULL UNIQUE,
pg_schema_owner VARCHAR NOT NULL UNIQUE,
pg_owner_password_enc VARCHAR NOT NULL,
pg_owner_password_iv VARCHAR NOT NULL,
creator_id BIGINT NOT NULL,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(project_id)
);

CREATE table IF NOT EXISTS ` + db.Schema + `."table"
(table_id SERIAL,
project_id INTEGER NOT NULL REFERENCES ` + db.Schema + `."project" ON DELETE CASCADE,
name VARCHAR NOT NULL,
description VARCHAR NOT NULL DEFAULT '',
pg_table_identifier VARCHAR NOT NULL,
creator_id BIGINT NOT NULL,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(table_id),
UNIQUE(project_id, pg_table_identifier)
);

CREATE table IF NOT EXISTS ` + db.Schema + `."column"
(column_id SERIAL,
table_id INTEGER NOT NULL REFERENCES ` + db.Schema + `."table" ON DELETE CASCADE,
name VARCHAR NOT NULL,
description VARCHAR NOT NULL DEFAULT '',
column_type VARCHAR NOT NULL,
pg_column_identifier VARCHAR NOT NULL,
required BOOLEAN NOT NULL DEFAULT FALSE,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(column_id),
UNIQUE(table_id, pg_column_identifier)
);

CREATE table IF NOT EXISTS ` + db.Schema + `."api_token"
(api_token_id SERIAL,
project_id INTEGER NOT NULL UNIQUE REFERENCES ` + db.Schema + `."project" ON DELETE CASCADE,
token VARCHAR NOT NULL,
read_only BOOLEAN NOT NULL DEFAULT TRUE,
generated_by BIGINT NOT NULL,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(api_token_id)
);`)
	if err != nil {
		panic(err)
	}
	return &Store{db: db}
}

// InsertProject stores a new logical project record. The caller must already
// have created the physical schema and role.
func (s *Store) InsertProject(ctx context.Context, project Project) (Project, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`."project"
(workspace_id,name,description,pg_schema_identifier,pg_schema_owner,pg_owner_password_enc,pg_owner_password_iv,creator_id)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING project_id,created_at,updated_at;`,
		project.WorkspaceID, project.Name, project.Description,
		project.SchemaIdentifier, project.SchemaOwner,
		project.OwnerPassword.Payload, project.OwnerPassword.IV,
		project.CreatorID,
	).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("cannot insert project: %w", err)
	}
	return project, nil
}

// GetProject reads one project. Returns csql.ErrNoRows if it does not exist.
func (s *Store) GetProject(ctx context.Context, projectID int64) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id,workspace_id,name,description,pg_schema_identifier,pg_schema_owner,
pg_owner_password_enc,pg_owner_password_iv,creator_id,created_at,updated_at
FROM `+s.db.Schema+`."project" WHERE project_id=$1;`, projectID,
	).Scan(&project.ID, &project.WorkspaceID, &project.Name, &project.Description,
		&project.SchemaIdentifier, &project.SchemaOwner,
		&project.OwnerPassword.Payload, &project.OwnerPassword.IV,
		&project.CreatorID, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

// DeleteProject removes the project record. Tables, columns and the API
// token go with it through the cascade.
func (s *Store) DeleteProject(ctx context.Context, projectID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.db.Schema+`."project" WHERE project_id=$1;`, projectID)
	return err
}

// InsertTable stores a table record together with its user-defined column
// records in one transaction.
func (s *Store) InsertTable(ctx context.Context, table Table) (Table, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Table{}, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`."table"
(project_id,name,description,pg_table_identifier,creator_id)
VALUES($1,$2,$3,$4,$5)
RETURNING table_id,created_at,updated_at;`,
		table.ProjectID, table.Name, table.Description, table.PgTableIdentifier, table.CreatorID,
	).Scan(&table.ID, &table.CreatedAt, &table.UpdatedAt)
	if err != nil {
		return Table{}, fmt.Errorf("cannot insert table: %w", err)
	}

	for i := range table.Columns {
		column := &table.Columns[i]
		column.TableID = table.ID
		err = tx.QueryRowContext(ctx,
			`INSERT INTO `+s.db.Schema+`."column"
(table_id,name,description,column_type,pg_column_identifier,required)
VALUES($1,$2,$3,$4,$5,$6)
RETURNING column_id,created_at,updated_at;`,
			column.TableID, column.Name, column.Description, column.ColumnType,
			column.PgColumnIdentifier, column.Required,
		).Scan(&column.ID, &column.CreatedAt, &column.UpdatedAt)
		if err != nil {
			return Table{}, fmt.Errorf("cannot insert column '%s': %w", column.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Table{}, err
	}
	return table, nil
}

// GetTable reads one table with its columns, scoped to a project.
func (s *Store) GetTable(ctx context.Context, projectID, tableID int64) (Table, error) {
	var table Table
	err := s.db.QueryRowContext(ctx,
		`SELECT table_id,project_id,name,description,pg_table_identifier,creator_id,created_at,updated_at
FROM `+s.db.Schema+`."table" WHERE project_id=$1 AND table_id=$2;`, projectID, tableID,
	).Scan(&table.ID, &table.ProjectID, &table.Name, &table.Description,
		&table.PgTableIdentifier, &table.CreatorID, &table.CreatedAt, &table.UpdatedAt)
	if err != nil {
		return Table{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT column_id,table_id,name,description,column_type,pg_column_identifier,required,created_at,updated_at
FROM `+s.db.Schema+`."column" WHERE table_id=$1 ORDER BY column_id;`, table.ID)
	if err != nil {
		return Table{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var column Column
		err = rows.Scan(&column.ID, &column.TableID, &column.Name, &column.Description,
			&column.ColumnType, &column.PgColumnIdentifier, &column.Required,
			&column.CreatedAt, &column.UpdatedAt)
		if err != nil {
			return Table{}, err
		}
		table.Columns = append(table.Columns, column)
	}
	return table, rows.Err()
}

// GetTablesInProject returns the tables of a project without their columns.
func (s *Store) GetTablesInProject(ctx context.Context, projectID int64) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_id,project_id,name,description,pg_table_identifier,creator_id,created_at,updated_at
FROM `+s.db.Schema+`."table" WHERE project_id=$1 ORDER BY table_id;`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []Table
	for rows.Next() {
		var table Table
		err = rows.Scan(&table.ID, &table.ProjectID, &table.Name, &table.Description,
			&table.PgTableIdentifier, &table.CreatorID, &table.CreatedAt, &table.UpdatedAt)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

// DeleteTable removes the table record; column records cascade.
func (s *Store) DeleteTable(ctx context.Context, tableID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.db.Schema+`."table" WHERE table_id=$1;`, tableID)
	return err
}

// InsertColumn stores a column record after the physical ALTER succeeded.
func (s *Store) InsertColumn(ctx context.Context, column Column) (Column, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`."column"
(table_id,name,description,column_type,pg_column_identifier,required)
VALUES($1,$2,$3,$4,$5,$6)
RETURNING column_id,created_at,updated_at;`,
		column.TableID, column.Name, column.Description, column.ColumnType,
		column.PgColumnIdentifier, column.Required,
	).Scan(&column.ID, &column.CreatedAt, &column.UpdatedAt)
	if err != nil {
		return Column{}, fmt.Errorf("cannot insert column: %w", err)
	}
	return column, nil
}

// GetColumn reads one column, scoped to a table.
func (s *Store) GetColumn(ctx context.Context, tableID, columnID int64) (Column, error) {
	var column Column
	err := s.db.QueryRowContext(ctx,
		`SELECT column_id,table_id,name,description,column_type,pg_column_identifier,required,created_at,updated_at
FROM `+s.db.Schema+`."column" WHERE table_id=$1 AND column_id=$2;`, tableID, columnID,
	).Scan(&column.ID, &column.TableID, &column.Name, &column.Description,
		&column.ColumnType, &column.PgColumnIdentifier, &column.Required,
		&column.CreatedAt, &column.UpdatedAt)
	if err != nil {
		return Column{}, err
	}
	return column, nil
}

// DeleteColumn removes the column record.
func (s *Store) DeleteColumn(ctx context.Context, columnID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.db.Schema+`."column" WHERE column_id=$1;`, columnID)
	return err
}

// UpsertAPIToken stores the project's API token, replacing any previous one.
// The token value is regenerated by the caller on every mint.
func (s *Store) UpsertAPIToken(ctx context.Context, token APIToken) (APIToken, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`."api_token"
(project_id,token,read_only,generated_by)
VALUES($1,$2,$3,$4)
ON CONFLICT (project_id) DO UPDATE SET token=$2,read_only=$3,generated_by=$4,updated_at=now()
RETURNING api_token_id,created_at,updated_at;`,
		token.ProjectID, token.Token, token.ReadOnly, token.GeneratedByUserID,
	).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return APIToken{}, fmt.Errorf("cannot upsert api token: %w", err)
	}
	return token, nil
}

// GetAPIToken reads the project's API token, if any.
func (s *Store) GetAPIToken(ctx context.Context, projectID int64) (APIToken, error) {
	var token APIToken
	err := s.db.QueryRowContext(ctx,
		`SELECT api_token_id,project_id,token,read_only,generated_by,created_at,updated_at
FROM `+s.db.Schema+`."api_token" WHERE project_id=$1;`, projectID,
	).Scan(&token.ID, &token.ProjectID, &token.Token, &token.ReadOnly,
		&token.GeneratedByUserID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return APIToken{}, err
	}
	return token, nil
}

// DeleteAPIToken removes one specific token of a project.
func (s *Store) DeleteAPIToken(ctx context.Context, projectID, apiTokenID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.db.Schema+`."api_token" WHERE project_id=$1 AND api_token_id=$2;`,
		projectID, apiTokenID)
	return err
}

// LookupAPIToken resolves a presented token value to the token record and
// the physical details of its project.
func (s *Store) LookupAPIToken(ctx context.Context, tokenValue string) (APIToken, ProjectPgDetails, error) {
	var (
		token   APIToken
		details ProjectPgDetails
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT t.api_token_id,t.project_id,t.token,t.read_only,t.generated_by,t.created_at,t.updated_at,
p.project_id,p.pg_schema_identifier,p.pg_schema_owner
FROM `+s.db.Schema+`."api_token" t
JOIN `+s.db.Schema+`."project" p ON p.project_id = t.project_id
WHERE t.token=$1;`, tokenValue,
	).Scan(&token.ID, &token.ProjectID, &token.Token, &token.ReadOnly,
		&token.GeneratedByUserID, &token.CreatedAt, &token.UpdatedAt,
		&details.ID, &details.SchemaIdentifier, &details.SchemaOwner)
	if err != nil {
		return APIToken{}, ProjectPgDetails{}, err
	}
	return token, details, nil
}

// GetProjectPgDetails reads the physical identifiers for a project.
func (s *Store) GetProjectPgDetails(ctx context.Context, projectID int64) (ProjectPgDetails, error) {
	var details ProjectPgDetails
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id,pg_schema_identifier,pg_schema_owner
FROM `+s.db.Schema+`."project" WHERE project_id=$1;`, projectID,
	).Scan(&details.ID, &details.SchemaIdentifier, &details.SchemaOwner)
	if err != nil {
		return ProjectPgDetails{}, err
	}
	return details, nil
}

// GetTablePgDetails reads the physical identifiers for a table and its
// project.
func (s *Store) GetTablePgDetails(ctx context.Context, projectID, tableID int64) (TablePgDetails, error) {
	var details TablePgDetails
	err := s.db.QueryRowContext(ctx,
		`SELECT t.table_id,t.pg_table_identifier,p.project_id,p.pg_schema_identifier,p.pg_schema_owner
FROM `+s.db.Schema+`."table" t
JOIN `+s.db.Schema+`."project" p ON p.project_id = t.project_id
WHERE t.project_id=$1 AND t.table_id=$2;`, projectID, tableID,
	).Scan(&details.ID, &details.PgTableIdentifier,
		&details.Project.ID, &details.Project.SchemaIdentifier, &details.Project.SchemaOwner)
	if err != nil {
		return TablePgDetails{}, err
	}
	return details, nil
}

// IsNoRows reports whether err is the no-rows sentinel of the underlying
// database layer.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
