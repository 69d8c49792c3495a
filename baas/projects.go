package baas

import (
	"context"
	"net/http"
	"strings"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/core/logger"
	"github.com/stratobase/stratobase/events"
	"github.com/stratobase/stratobase/meta"
	"github.com/stratobase/stratobase/provision"
)

func (s *Service) createProjectWithAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	workspaceID, err := pathID(r, "workspaceId")
	if err != nil {
		return err
	}
	if err = requireWorkspace(user, workspaceID); err != nil {
		return err
	}

	var request createProjectRequest
	if err = decodeValidated(r, createProjectSchema, &request); err != nil {
		return err
	}
	if err = validName("name", request.Name); err != nil {
		return err
	}

	details, err := provision.GenerateSchemaDetails(workspaceID)
	if err != nil {
		return err
	}
	encrypted, err := s.cipher.Encrypt(details.Password)
	if err != nil {
		return err
	}

	// the physical schema first; the transaction is atomic, so a failure
	// here leaves nothing behind
	if err = s.provisioner.CreateSchemaWithOwner(ctx, details); err != nil {
		logger.FromContext(ctx).Errorln("cannot create tenant schema:", err)
		return &baaserr.ProvisioningError{Operation: "create schema", Err: err}
	}

	if err = s.exposeSchema(ctx, details.Identifier); err != nil {
		compensated := provision.Compensate(ctx, "create schema", func() error {
			return s.provisioner.DropSchemaAndOwner(ctx, details.SchemaDetails, true)
		})
		return &baaserr.ProvisioningError{Operation: "expose schema", Err: err, Compensated: compensated}
	}

	project, err := s.store.InsertProject(ctx, meta.Project{
		WorkspaceID:      workspaceID,
		Name:             strings.TrimSpace(request.Name),
		Description:      request.Description,
		SchemaIdentifier: details.Identifier,
		SchemaOwner:      details.Owner,
		OwnerPassword:    encrypted,
		CreatorID:        user.ID,
	})
	if err != nil {
		compensated := provision.Compensate(ctx, "register project", func() error {
			if dropErr := s.provisioner.DropSchemaAndOwner(ctx, details.SchemaDetails, true); dropErr != nil {
				return dropErr
			}
			return s.concealSchema(ctx, details.Identifier)
		})
		return &baaserr.ProvisioningError{Operation: "register project", Err: err, Compensated: compensated}
	}

	s.publisher.Publish(ctx, events.Event{
		Type:        events.TypeProjectCreated,
		WorkspaceID: workspaceID,
		ProjectID:   project.ID,
	})
	writeJSON(w, http.StatusCreated, toProjectResponse(project))
	return nil
}

func (s *Service) getProjectWithAuth(w http.ResponseWriter, r *http.Request) error {
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
	writeJSON(w, http.StatusOK, toProjectResponse(project))
	return nil
}

// deleteProjectWithAuth drops the physical schema with everything in it,
// removes the schema from the gateway and deletes the logical record; the
// registry cascades over tables, columns and the API token.
func (s *Service) deleteProjectWithAuth(w http.ResponseWriter, r *http.Request) error {
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

	details := provision.SchemaDetails{
		Identifier: project.SchemaIdentifier,
		Owner:      project.SchemaOwner,
	}
	if err = s.provisioner.DropSchemaAndOwner(ctx, details, true); err != nil {
		logger.FromContext(ctx).Errorln("cannot drop tenant schema:", err)
		return &baaserr.ProvisioningError{Operation: "drop schema", Err: err}
	}
	if err = s.concealSchema(ctx, project.SchemaIdentifier); err != nil {
		// the schema is gone; the stale config entry points at nothing and
		// is cleaned up on the next successful sync
		logger.FromContext(ctx).Errorln("cannot remove schema from gateway config:", err)
	}
	if err = s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.Event{
		Type:        events.TypeProjectDeleted,
		WorkspaceID: project.WorkspaceID,
		ProjectID:   projectID,
	})
	writeSuccess(w)
	return nil
}

// exposeSchema adds a schema to the gateway config and has the gateway
// re-read it.
func (s *Service) exposeSchema(ctx context.Context, schema string) error {
	if err := s.coordinator.AddSchema(ctx, schema); err != nil {
		return err
	}
	return s.provisioner.ReloadGatewayConfig(ctx)
}

// concealSchema removes a schema from the gateway config and has the
// gateway re-read it.
func (s *Service) concealSchema(ctx context.Context, schema string) error {
	if err := s.coordinator.RemoveSchema(ctx, schema); err != nil {
		return err
	}
	return s.provisioner.ReloadGatewayConfig(ctx)
}
