package baas

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/stratobase/stratobase/core/access"
	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/meta"
)

func pathID(r *http.Request, name string) (int64, error) {
	value, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, baaserr.NewValidationError(name, "must be an integer")
	}
	return value, nil
}

// requireUser returns the authenticated user or ErrUnauthorized. The bearer
// middleware normally guarantees presence; this guards routes wired without
// it.
func requireUser(ctx context.Context) (*access.AuthedUser, error) {
	user := access.UserFromContext(ctx)
	if user == nil {
		return nil, baaserr.ErrUnauthorized
	}
	return user, nil
}

// requireWorkspace fails with a not-found when the user cannot access the
// workspace. Denial looks identical to absence on purpose.
func requireWorkspace(user *access.AuthedUser, workspaceID int64) error {
	if !user.CanAccessWorkspace(workspaceID) {
		return &baaserr.NotFoundError{What: "workspace"}
	}
	return nil
}

// authedProject loads a project and verifies the user can access its
// workspace.
func (s *Service) authedProject(ctx context.Context, user *access.AuthedUser, projectID int64) (meta.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if meta.IsNoRows(err) {
		return meta.Project{}, &baaserr.NotFoundError{What: "project"}
	}
	if err != nil {
		return meta.Project{}, err
	}
	if !user.CanAccessWorkspace(project.WorkspaceID) {
		return meta.Project{}, &baaserr.NotFoundError{What: "project"}
	}
	return project, nil
}
