package baas

import (
	"net/http"

	"github.com/stratobase/stratobase/meta"
)

// upsertAPITokenWithAuth mints the project's external API token, replacing
// any previous one. The signed value is regenerated on every call.
func (s *Service) upsertAPITokenWithAuth(w http.ResponseWriter, r *http.Request) error {
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

	// no email claim means the row-ownership policy can never match, which
	// is what makes this token permanently read-only
	signed, err := s.minter.SignReadOnlyAPIToken(project.SchemaOwner)
	if err != nil {
		return err
	}
	token, err := s.store.UpsertAPIToken(ctx, meta.APIToken{
		ProjectID:         projectID,
		Token:             signed,
		ReadOnly:          true,
		GeneratedByUserID: user.ID,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, toAPITokenResponse(token))
	return nil
}

func (s *Service) getAPITokenWithAuth(w http.ResponseWriter, r *http.Request) error {
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

	token, err := s.store.GetAPIToken(ctx, projectID)
	if meta.IsNoRows(err) {
		// a project without a token is a normal state, not an error
		writeJSON(w, http.StatusOK, nil)
		return nil
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toAPITokenResponse(token))
	return nil
}

func (s *Service) deleteAPITokenWithAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return err
	}
	apiTokenID, err := pathID(r, "apiTokenId")
	if err != nil {
		return err
	}
	if _, err = s.authedProject(ctx, user, projectID); err != nil {
		return err
	}
	if err = s.store.DeleteAPIToken(ctx, projectID, apiTokenID); err != nil {
		return err
	}
	writeSuccess(w)
	return nil
}
