package baas

import (
	"net/http"
	"strings"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/core/logger"
	"github.com/stratobase/stratobase/core/sqlid"
	"github.com/stratobase/stratobase/events"
	"github.com/stratobase/stratobase/meta"
	"github.com/stratobase/stratobase/provision"
)

// addColumnWithAuth adds one nullable column to an existing table. New
// columns are never required: existing rows could not satisfy the
// constraint.
func (s *Service) addColumnWithAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	project, table, err := s.authedTable(r, user)
	if err != nil {
		return err
	}

	var request addColumnRequest
	if err = decodeValidated(r, addColumnSchema, &request); err != nil {
		return err
	}
	if err = validName("name", request.Name); err != nil {
		return err
	}

	columnIdentifier, err := sqlid.NameToIdentifier(request.Name)
	if err != nil {
		return err
	}
	pgType, err := provision.PgTypeForColumn(request.ColumnType)
	if err != nil {
		return baaserr.NewValidationError("columnType", err.Error())
	}

	details := provision.TableDetails{
		Schema:     project.SchemaIdentifier,
		Identifier: table.PgTableIdentifier,
	}
	err = s.provisioner.AddColumn(ctx, details, provision.NewColumnDetails{
		Identifier: columnIdentifier,
		ColumnType: pgType,
	})
	if err != nil {
		if provision.IsDuplicateColumn(err) {
			return &baaserr.ConflictError{Name: request.Name, Identifier: columnIdentifier}
		}
		logger.FromContext(ctx).Errorln("cannot add tenant column:", err)
		return &baaserr.ProvisioningError{Operation: "add column", Err: err}
	}
	if err = s.provisioner.ReloadGatewaySchema(ctx); err != nil {
		logger.FromContext(ctx).Errorln("cannot reload gateway schema cache:", err)
	}

	column, err := s.store.InsertColumn(ctx, meta.Column{
		TableID:            table.ID,
		Name:               strings.TrimSpace(request.Name),
		Description:        request.Description,
		ColumnType:         request.ColumnType,
		PgColumnIdentifier: columnIdentifier,
	})
	if err != nil {
		compensated := provision.Compensate(ctx, "register column", func() error {
			return s.provisioner.DropColumn(ctx, details, columnIdentifier)
		})
		return &baaserr.ProvisioningError{Operation: "register column", Err: err, Compensated: compensated}
	}

	s.publisher.Publish(ctx, events.Event{
		Type:        events.TypeColumnAdded,
		WorkspaceID: project.WorkspaceID,
		ProjectID:   project.ID,
		TableID:     table.ID,
		ColumnID:    column.ID,
	})
	writeJSON(w, http.StatusCreated, toColumnResponse(column))
	return nil
}

// dropColumnWithAuth drops a column and all its data, irreversibly.
func (s *Service) dropColumnWithAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	project, table, err := s.authedTable(r, user)
	if err != nil {
		return err
	}
	columnID, err := pathID(r, "columnId")
	if err != nil {
		return err
	}

	column, err := s.store.GetColumn(ctx, table.ID, columnID)
	if meta.IsNoRows(err) {
		return &baaserr.NotFoundError{What: "column"}
	}
	if err != nil {
		return err
	}

	err = s.provisioner.DropColumn(ctx, provision.TableDetails{
		Schema:     project.SchemaIdentifier,
		Identifier: table.PgTableIdentifier,
	}, column.PgColumnIdentifier)
	if err != nil {
		logger.FromContext(ctx).Errorln("cannot drop tenant column:", err)
		return &baaserr.ProvisioningError{Operation: "drop column", Err: err}
	}
	if err = s.provisioner.ReloadGatewaySchema(ctx); err != nil {
		logger.FromContext(ctx).Errorln("cannot reload gateway schema cache:", err)
	}
	if err = s.store.DeleteColumn(ctx, columnID); err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.Event{
		Type:        events.TypeColumnDropped,
		WorkspaceID: project.WorkspaceID,
		ProjectID:   project.ID,
		TableID:     table.ID,
		ColumnID:    columnID,
	})
	writeSuccess(w)
	return nil
}
