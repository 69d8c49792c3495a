package provision

// Identifiers of the four generated columns every user table carries.
const (
	GeneratedColumnID        = "id"
	GeneratedColumnCreatedAt = "created_at"
	GeneratedColumnUpdatedAt = "updated_at"
	GeneratedColumnCreator   = "creator"
)

// GeneratedColumn describes one implicit column added to every table.
type GeneratedColumn struct {
	Identifier string
	Name       string
	ColumnType PgColumnType
	Required   bool
	Primary    bool
	Default    string
}

// GeneratedColumns is the fixed catalog of implicit columns: a serial
// primary key, creation and update timestamps, and the creator identity the
// row-ownership policy checks against.
func GeneratedColumns() []GeneratedColumn {
	return []GeneratedColumn{
		{
			Identifier: GeneratedColumnID,
			Name:       "ID",
			ColumnType: PgTypeSerial,
			Required:   true,
			Primary:    true,
		},
		{
			Identifier: GeneratedColumnCreatedAt,
			Name:       "Created At",
			ColumnType: PgTypeTimestamptz,
			Required:   true,
			Default:    "now()",
		},
		{
			Identifier: GeneratedColumnUpdatedAt,
			Name:       "Updated At",
			ColumnType: PgTypeTimestamptz,
			Required:   true,
			Default:    "now()",
		},
		{
			Identifier: GeneratedColumnCreator,
			Name:       "Creator",
			ColumnType: PgTypeText,
			Required:   true,
		},
	}
}

// GeneratedColumnNames returns the identifiers of all generated columns.
func GeneratedColumnNames() []string {
	return []string{
		GeneratedColumnID,
		GeneratedColumnCreatedAt,
		GeneratedColumnUpdatedAt,
		GeneratedColumnCreator,
	}
}

// NewTableColumns assembles the full physical column list for a new table:
// the generated catalog first, then the user-defined columns.
func NewTableColumns(userColumns []NewColumnDetails) []NewColumnDetails {
	columns := make([]NewColumnDetails, 0, len(userColumns)+4)
	for _, generated := range GeneratedColumns() {
		columns = append(columns, NewColumnDetails{
			Identifier: generated.Identifier,
			ColumnType: generated.ColumnType,
			Required:   generated.Required,
			Primary:    generated.Primary,
			Default:    generated.Default,
		})
	}
	return append(columns, userColumns...)
}
