package baas

import (
	"net/http"
	"strings"

	"github.com/stratobase/stratobase/core/access"
	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/core/logger"
	"github.com/stratobase/stratobase/core/sqlid"
	"github.com/stratobase/stratobase/events"
	"github.com/stratobase/stratobase/meta"
	"github.com/stratobase/stratobase/provision"
)

func (s *Service) createTableWithAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return err
	}
	project, err := s.authedProject(ctx, user, projectID)
	if err != nil {
		return err
	}

	var request createTableRequest
	if err = decodeValidated(r, createTableSchema, &request); err != nil {
		return err
	}
	if err = validName("name", request.Name); err != nil {
		return err
	}
	for _, column := range request.Columns {
		if err = validName("columns.name", column.Name); err != nil {
			return err
		}
	}

	tableIdentifier, err := sqlid.NameToIdentifier(request.Name)
	if err != nil {
		return err
	}

	userColumns := make([]provision.NewColumnDetails, 0, len(request.Columns))
	logicalColumns := make([]meta.Column, 0, len(request.Columns))
	for _, column := range request.Columns {
		columnIdentifier, err := sqlid.NameToIdentifier(column.Name)
		if err != nil {
			return err
		}
		pgType, err := provision.PgTypeForColumn(column.ColumnType)
		if err != nil {
			return baaserr.NewValidationError("columns.columnType", err.Error())
		}
		userColumns = append(userColumns, provision.NewColumnDetails{
			Identifier: columnIdentifier,
			ColumnType: pgType,
			Required:   column.Required,
		})
		logicalColumns = append(logicalColumns, meta.Column{
			Name:               strings.TrimSpace(column.Name),
			Description:        column.Description,
			ColumnType:         column.ColumnType,
			PgColumnIdentifier: columnIdentifier,
			Required:           column.Required,
		})
	}

	password, err := s.cipher.Decrypt(project.OwnerPassword)
	if err != nil {
		return err
	}

	details := provision.NewTableDetails{
		TableDetails: provision.TableDetails{
			Schema:     project.SchemaIdentifier,
			Identifier: tableIdentifier,
		},
		Columns: provision.NewTableColumns(userColumns),
	}
	credentials := provision.ConnCredentials{Owner: project.SchemaOwner, Password: password}

	err = s.provisioner.CreateTableWithRowLevelSecurity(ctx, details, credentials, provision.GeneratedColumnCreator)
	if err != nil {
		if provision.IsDuplicateTable(err) {
			return &baaserr.ConflictError{Name: request.Name, Identifier: tableIdentifier}
		}
		logger.FromContext(ctx).Errorln("cannot create tenant table:", err)
		return &baaserr.ProvisioningError{Operation: "create table", Err: err}
	}
	if err = s.provisioner.ReloadGatewaySchema(ctx); err != nil {
		logger.FromContext(ctx).Errorln("cannot reload gateway schema cache:", err)
	}

	table, err := s.store.InsertTable(ctx, meta.Table{
		ProjectID:         projectID,
		Name:              strings.TrimSpace(request.Name),
		Description:       request.Description,
		PgTableIdentifier: tableIdentifier,
		CreatorID:         user.ID,
		Columns:           logicalColumns,
	})
	if err != nil {
		compensated := provision.Compensate(ctx, "register table", func() error {
			return s.provisioner.DropTable(ctx, details.TableDetails)
		})
		return &baaserr.ProvisioningError{Operation: "register table", Err: err, Compensated: compensated}
	}

	s.publisher.Publish(ctx, events.Event{
		Type:        events.TypeTableCreated,
		WorkspaceID: project.WorkspaceID,
		ProjectID:   projectID,
		TableID:     table.ID,
	})
	writeJSON(w, http.StatusCreated, toTableResponse(table))
	return nil
}

func (s *Service) getTablesWithAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return err
	}
	if _, err = s.authedProject(ctx, user, projectID); err != nil {
		return err
	}
	tables, err := s.store.GetTablesInProject(ctx, projectID)
	if err != nil {
		return err
	}
	responses := make([]TableResponse, 0, len(tables))
	for _, table := range tables {
		responses = append(responses, toTableResponse(table))
	}
	writeJSON(w, http.StatusOK, responses)
	return nil
}

func (s *Service) getTableWithAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	_, table, err := s.authedTable(r, user)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toTableResponse(table))
	return nil
}

func (s *Service) deleteTableWithAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	project, table, err := s.authedTable(r, user)
	if err != nil {
		return err
	}

	err = s.provisioner.DropTable(ctx, provision.TableDetails{
		Schema:     project.SchemaIdentifier,
		Identifier: table.PgTableIdentifier,
	})
	if err != nil {
		logger.FromContext(ctx).Errorln("cannot drop tenant table:", err)
		return &baaserr.ProvisioningError{Operation: "drop table", Err: err}
	}
	if err = s.provisioner.ReloadGatewaySchema(ctx); err != nil {
		logger.FromContext(ctx).Errorln("cannot reload gateway schema cache:", err)
	}
	if err = s.store.DeleteTable(ctx, table.ID); err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.Event{
		Type:        events.TypeTableDeleted,
		WorkspaceID: project.WorkspaceID,
		ProjectID:   project.ID,
		TableID:     table.ID,
	})
	writeSuccess(w)
	return nil
}

// authedTable loads the project and table addressed by the request path and
// verifies access.
func (s *Service) authedTable(r *http.Request, user *access.AuthedUser) (meta.Project, meta.Table, error) {
	ctx := r.Context()
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return meta.Project{}, meta.Table{}, err
	}
	tableID, err := pathID(r, "tableId")
	if err != nil {
		return meta.Project{}, meta.Table{}, err
	}
	project, err := s.authedProject(ctx, user, projectID)
	if err != nil {
		return meta.Project{}, meta.Table{}, err
	}
	table, err := s.store.GetTable(ctx, projectID, tableID)
	if meta.IsNoRows(err) {
		return meta.Project{}, meta.Table{}, &baaserr.NotFoundError{What: "table"}
	}
	if err != nil {
		return meta.Project{}, meta.Table{}, err
	}
	return project, table, nil
}
