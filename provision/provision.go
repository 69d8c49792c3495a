/*Package provision creates and destroys the physical tenant objects:
schemas, owning roles, tables and columns in the tenant database.

Two privilege tiers are used. A pooled admin connection creates and drops
schemas and roles and runs column DDL. Table creation runs on a fresh,
short-lived connection authenticated as the tenant's owner role so that the
tenant owns its tables and later operations can run under least privilege.

Identifiers cannot be bound as query parameters, so every generated SQL
fragment is assembled from identifiers validated by core/sqlid, and is
additionally checked for a literal semicolon right before execution. A
semicolon in generated SQL means identifier validation was bypassed and
aborts the operation with an UnsafeQueryError.
*/
package provision

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/core/logger"
	"github.com/stratobase/stratobase/core/sqlid"
	"github.com/stratobase/stratobase/meta"
)

// PgColumnType is a physical column type used in generated DDL.
type PgColumnType string

// the supported physical column types
const (
	PgTypeSerial      PgColumnType = "SERIAL"
	PgTypeInteger     PgColumnType = "INTEGER"
	PgTypeFloat       PgColumnType = "FLOAT"
	PgTypeText        PgColumnType = "TEXT"
	PgTypeBoolean     PgColumnType = "BOOLEAN"
	PgTypeTimestamptz PgColumnType = "TIMESTAMPTZ"
)

// UnhandledTypeError reports a type outside the fixed catalog.
type UnhandledTypeError struct {
	Type string
}

func (e *UnhandledTypeError) Error() string {
	return fmt.Sprintf("type '%s' is not handled", e.Type)
}

// PgTypeForColumn maps a logical column type to its physical type. The
// mapping is total over the five supported logical types.
func PgTypeForColumn(columnType meta.ColumnType) (PgColumnType, error) {
	switch columnType {
	case meta.ColumnTypeInteger:
		return PgTypeInteger, nil
	case meta.ColumnTypeFloat:
		return PgTypeFloat, nil
	case meta.ColumnTypeText:
		return PgTypeText, nil
	case meta.ColumnTypeBoolean:
		return PgTypeBoolean, nil
	case meta.ColumnTypeDatetime:
		return PgTypeTimestamptz, nil
	}
	return "", &UnhandledTypeError{Type: string(columnType)}
}

// ColumnTypeForPg maps a physical type back to its logical type. SERIAL maps
// to INTEGER; it only exists for the generated id column.
func ColumnTypeForPg(pgType PgColumnType) (meta.ColumnType, error) {
	switch pgType {
	case PgTypeSerial, PgTypeInteger:
		return meta.ColumnTypeInteger, nil
	case PgTypeFloat:
		return meta.ColumnTypeFloat, nil
	case PgTypeText:
		return meta.ColumnTypeText, nil
	case PgTypeBoolean:
		return meta.ColumnTypeBoolean, nil
	case PgTypeTimestamptz:
		return meta.ColumnTypeDatetime, nil
	}
	return "", &UnhandledTypeError{Type: string(pgType)}
}

// SchemaDetails identifies a tenant schema and its owning role.
type SchemaDetails struct {
	Identifier string
	Owner      string
}

// NewSchemaDetails is a schema to be created, including the generated owner
// password. The password only lives in memory.
type NewSchemaDetails struct {
	SchemaDetails
	Password string
}

// ConnCredentials authenticate a connection as a tenant owner role.
type ConnCredentials struct {
	Owner    string
	Password string
}

// NewColumnDetails describes one column of a CREATE TABLE or ADD COLUMN.
type NewColumnDetails struct {
	Identifier string
	ColumnType PgColumnType
	Required   bool
	Primary    bool
	Default    string
}

// TableDetails identifies a physical table within a tenant schema.
type TableDetails struct {
	Schema     string
	Identifier string
}

// NewTableDetails is a table to be created with all its columns, generated
// and user-defined.
type NewTableDetails struct {
	TableDetails
	Columns []NewColumnDetails
}

// ConnOptions are the tenant database connection parameters for the admin
// tier. Owner connections reuse host, port and database name.
type ConnOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MinConns int
	MaxConns int
}

func (o ConnOptions) dataSource(user, password string) string {
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, o.Port, user, password, o.Database, sslMode)
}

// Provisioner executes tenant DDL against the tenant database.
type Provisioner struct {
	adminDB  *sql.DB
	connOpts ConnOptions
	channel  string
}

// Builder assembles a Provisioner.
type Builder struct {
	// ConnOptions is the admin connection configuration. Mandatory.
	ConnOptions ConnOptions
	// NotificationChannel is the gateway's reload channel. Defaults to "pgrst".
	NotificationChannel string
}

// MustNew creates a Provisioner with a pooled admin connection and verifies
// connectivity.
func MustNew(b *Builder) *Provisioner {
	db, err := sql.Open("postgres", b.ConnOptions.dataSource(b.ConnOptions.User, b.ConnOptions.Password))
	if err != nil {
		panic(err)
	}
	if b.ConnOptions.MaxConns > 0 {
		db.SetMaxOpenConns(b.ConnOptions.MaxConns)
	}
	if b.ConnOptions.MinConns > 0 {
		db.SetMaxIdleConns(b.ConnOptions.MinConns)
	}
	if err = db.Ping(); err != nil {
		panic(err)
	}
	channel := b.NotificationChannel
	if channel == "" {
		channel = "pgrst"
	}
	return &Provisioner{adminDB: db, connOpts: b.ConnOptions, channel: channel}
}

// Close closes the admin pool.
func (p *Provisioner) Close() error {
	return p.adminDB.Close()
}

// GenerateSchemaDetails generates a globally unique schema/role identifier
// for a workspace plus a random owner password. The identifier is derived
// from the workspace id and random hex, never from user input, so display
// names cannot reach physical identifiers.
func GenerateSchemaDetails(workspaceID int64) (NewSchemaDetails, error) {
	suffix := make([]byte, 12)
	if _, err := rand.Read(suffix); err != nil {
		return NewSchemaDetails{}, err
	}
	password := make([]byte, 16)
	if _, err := rand.Read(password); err != nil {
		return NewSchemaDetails{}, err
	}
	name := strings.ToLower(fmt.Sprintf("ws_%d_%s", workspaceID, hex.EncodeToString(suffix)))
	return NewSchemaDetails{
		SchemaDetails: SchemaDetails{Identifier: name, Owner: name},
		Password:      hex.EncodeToString(password),
	}, nil
}

func checkSQLSafe(query string) error {
	if strings.Contains(query, ";") {
		return &baaserr.UnsafeQueryError{Query: query}
	}
	return nil
}

// executes queries sequentially in one transaction. Callers must have
// checked every query for safety already.
func executeTransactional(ctx context.Context, db *sql.DB, queries []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, query := range queries {
		if _, err = tx.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func validIdentifiers(identifiers ...string) error {
	for _, identifier := range identifiers {
		if !sqlid.IsValidIdentifier(identifier) {
			return &sqlid.InvalidIdentifierError{Identifier: identifier}
		}
	}
	return nil
}

// CreateSchemaWithOwner creates a new role and a new schema owned by that
// role, in one transaction on the admin connection. The role's search_path
// is pinned to the schema so owner connections resolve unqualified names
// there.
func (p *Provisioner) CreateSchemaWithOwner(ctx context.Context, details NewSchemaDetails) error {
	if err := validIdentifiers(details.Identifier, details.Owner); err != nil {
		return err
	}

	queries := []string{
		fmt.Sprintf(`CREATE ROLE %s PASSWORD '%s' LOGIN`, details.Owner, details.Password),
		fmt.Sprintf(`ALTER ROLE %s SET search_path = "%s"`, details.Owner, details.Identifier),
		fmt.Sprintf(`CREATE SCHEMA %s AUTHORIZATION %s`, details.Identifier, details.Owner),
	}
	for _, query := range queries {
		if err := checkSQLSafe(query); err != nil {
			return err
		}
	}
	return executeTransactional(ctx, p.adminDB, queries)
}

// DropSchemaAndOwner drops the schema and then the owning role in one
// transaction. Without cascade the drop fails if the schema still contains
// objects and nothing is changed.
func (p *Provisioner) DropSchemaAndOwner(ctx context.Context, details SchemaDetails, cascade bool) error {
	if err := validIdentifiers(details.Identifier, details.Owner); err != nil {
		return err
	}

	dropSchema := fmt.Sprintf(`DROP SCHEMA %s`, details.Identifier)
	if cascade {
		dropSchema += ` CASCADE`
	}
	queries := []string{
		dropSchema,
		fmt.Sprintf(`DROP ROLE %s`, details.Owner),
	}
	for _, query := range queries {
		if err := checkSQLSafe(query); err != nil {
			return err
		}
	}
	return executeTransactional(ctx, p.adminDB, queries)
}

// CreateTableWithRowLevelSecurity creates the table on a fresh connection
// authenticated as the tenant owner, then enables and forces row level
// security and installs the two policies: unconditional SELECT, and
// modification only where the creator column equals the email claim of the
// caller's token. Forcing RLS closes the loophole that would otherwise
// exempt the owning role itself.
func (p *Provisioner) CreateTableWithRowLevelSecurity(ctx context.Context, details NewTableDetails, credentials ConnCredentials, creatorColumn string) error {
	if err := validIdentifiers(details.Schema, details.Identifier, credentials.Owner, creatorColumn); err != nil {
		return err
	}
	for _, column := range details.Columns {
		if !sqlid.IsValidIdentifier(column.Identifier) {
			return &sqlid.InvalidIdentifierError{Identifier: column.Identifier}
		}
	}

	var columnDefs, primaryKeys []string
	for _, column := range details.Columns {
		columnDefs = append(columnDefs, columnDefinition(column))
		if column.Primary {
			primaryKeys = append(primaryKeys, column.Identifier)
		}
	}
	if len(primaryKeys) > 0 {
		columnDefs = append(columnDefs, fmt.Sprintf("PRIMARY KEY(%s)", strings.Join(primaryKeys, ", ")))
	}

	queries := []string{
		fmt.Sprintf("CREATE TABLE %s.%s (\n%s\n)", details.Schema, details.Identifier, strings.Join(columnDefs, ",\n")),
		// FORCE alone does not enable RLS, and ENABLE alone does not subject
		// the table owner to it. Both are required.
		fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, details.Identifier),
		fmt.Sprintf(`ALTER TABLE %s FORCE ROW LEVEL SECURITY`, details.Identifier),
		fmt.Sprintf(`CREATE POLICY %s_sel_policy ON %s FOR SELECT USING (true)`, details.Identifier, details.Identifier),
		fmt.Sprintf(`CREATE POLICY %s_mod_policy ON %s USING (%s = current_setting('request.jwt.claims', true)::json->>'email')`,
			details.Identifier, details.Identifier, creatorColumn),
	}
	for _, query := range queries {
		if err := checkSQLSafe(query); err != nil {
			return err
		}
	}

	ownerDB, err := sql.Open("postgres", p.connOpts.dataSource(credentials.Owner, credentials.Password))
	if err != nil {
		return err
	}
	defer ownerDB.Close()
	if err = ownerDB.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot connect as tenant owner '%s': %w", credentials.Owner, err)
	}

	return executeTransactional(ctx, ownerDB, queries)
}

// DropTable drops the physical table via the admin connection. All rows are
// lost, irreversibly.
func (p *Provisioner) DropTable(ctx context.Context, details TableDetails) error {
	if err := validIdentifiers(details.Schema, details.Identifier); err != nil {
		return err
	}
	query := fmt.Sprintf(`DROP TABLE %s.%s`, details.Schema, details.Identifier)
	if err := checkSQLSafe(query); err != nil {
		return err
	}
	return executeTransactional(ctx, p.adminDB, []string{query})
}

// AddColumn adds one column to an existing table via the admin connection.
func (p *Provisioner) AddColumn(ctx context.Context, details TableDetails, column NewColumnDetails) error {
	if err := validIdentifiers(details.Schema, details.Identifier, column.Identifier); err != nil {
		return err
	}
	query := fmt.Sprintf(`ALTER TABLE %s.%s ADD COLUMN %s`,
		details.Schema, details.Identifier, columnDefinition(column))
	if err := checkSQLSafe(query); err != nil {
		return err
	}
	return executeTransactional(ctx, p.adminDB, []string{query})
}

// DropColumn drops one column and its data, irreversibly.
func (p *Provisioner) DropColumn(ctx context.Context, details TableDetails, columnIdentifier string) error {
	if err := validIdentifiers(details.Schema, details.Identifier, columnIdentifier); err != nil {
		return err
	}
	query := fmt.Sprintf(`ALTER TABLE %s.%s DROP COLUMN %s`,
		details.Schema, details.Identifier, columnIdentifier)
	if err := checkSQLSafe(query); err != nil {
		return err
	}
	return executeTransactional(ctx, p.adminDB, []string{query})
}

// ReloadGatewayConfig tells the gateway to re-read its configuration file.
func (p *Provisioner) ReloadGatewayConfig(ctx context.Context) error {
	_, err := p.adminDB.ExecContext(ctx, fmt.Sprintf(`NOTIFY %s, 'reload config'`, p.channel))
	return err
}

// ReloadGatewaySchema tells the gateway to re-read the table and column
// catalog. Config and schema reloads are separate notifications and must
// not be conflated.
func (p *Provisioner) ReloadGatewaySchema(ctx context.Context) error {
	_, err := p.adminDB.ExecContext(ctx, fmt.Sprintf(`NOTIFY %s, 'reload schema'`, p.channel))
	return err
}

// AdminDB exposes the admin pool for integration tests.
func (p *Provisioner) AdminDB() *sql.DB {
	return p.adminDB
}

func columnDefinition(column NewColumnDetails) string {
	definition := fmt.Sprintf("%s %s", column.Identifier, column.ColumnType)
	if column.Required {
		definition += " NOT NULL"
	}
	if column.Default != "" {
		definition += " DEFAULT " + column.Default
	}
	return definition
}

// IsDuplicateTable reports whether err is the Postgres duplicate_table
// error, which surfaces when two display names map to the same physical
// identifier.
func IsDuplicateTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P07"
}

// IsDuplicateColumn reports the Postgres duplicate_column error.
func IsDuplicateColumn(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42701"
}

// Compensate runs a compensating drop after a partial provisioning failure
// and logs distinctly when the compensation itself fails; orphaned physical
// objects then require manual cleanup.
func Compensate(ctx context.Context, operation string, drop func() error) bool {
	if err := drop(); err != nil {
		logger.FromContext(ctx).WithField("operation", operation).
			Errorln("compensating drop failed, physical objects may be orphaned:", err)
		return false
	}
	return true
}
