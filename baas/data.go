package baas

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/stratobase/stratobase/core/access"
	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/meta"
	"github.com/stratobase/stratobase/proxy"
)

// userTableData proxies in-app data access for one table. Each request gets
// a freshly minted ownership token carrying the tenant owner role and the
// caller's email, which the gateway's row-level-security policies check.
func (s *Service) userTableData(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return err
	}
	tableID, err := pathID(r, "tableId")
	if err != nil {
		return err
	}
	if _, err = s.authedProject(ctx, user, projectID); err != nil {
		return err
	}

	details, err := s.store.GetTablePgDetails(ctx, projectID, tableID)
	if meta.IsNoRows(err) {
		return &baaserr.NotFoundError{What: "table"}
	}
	if err != nil {
		return err
	}

	if proxy.MethodWrites(r.Method) {
		if err = policeWriteBody(r, user.Email); err != nil {
			return err
		}
	}

	token, err := s.minter.SignOwnershipToken(details.Project.SchemaOwner, user.Email)
	if err != nil {
		return err
	}
	r.URL.Path = "/" + details.PgTableIdentifier
	r.Header.Set("Authorization", "Bearer "+token)

	return s.dataMediator.Forward(w, r, details.Project.SchemaIdentifier)
}

// policeWriteBody rejects bodies that set generated columns and then
// injects the server-controlled creator and updated_at values. The check
// always runs on the caller's original body, before the injection.
func policeWriteBody(r *http.Request, email string) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil
	}

	var document interface{}
	if err = json.Unmarshal(raw, &document); err != nil {
		return baaserr.NewValidationError("body", "request body is not valid JSON")
	}
	if err = proxy.CheckNoGeneratedColumns(r.Method, document); err != nil {
		return err
	}
	proxy.FillRequiredColumns(document, email, time.Now())

	filled, err := json.Marshal(document)
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(filled))
	r.ContentLength = int64(len(filled))
	return nil
}

// externalAPIData proxies the public data API. Authentication is the
// project's stored API token presented in headers; the token itself becomes
// the gateway bearer token, so its claims govern what the gateway permits.
func (s *Service) externalAPIData(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	apiKey := r.Header.Get(access.APIKeyHeader)
	if apiKey == "" {
		return baaserr.ErrUnauthorized
	}
	projectID, err := strconv.ParseInt(r.Header.Get(access.ProjectIDHeader), 10, 64)
	if err != nil {
		return baaserr.ErrUnauthorized
	}

	token, details, err := s.store.LookupAPIToken(ctx, apiKey)
	if meta.IsNoRows(err) || (err == nil && token.ProjectID != projectID) {
		return baaserr.ErrUnauthorized
	}
	if err != nil {
		return err
	}

	r.URL.Path = strings.TrimPrefix(r.URL.Path, DataAPIBasePath)
	r.Header.Set("Authorization", "Bearer "+token.Token)

	return s.dataMediator.Forward(w, r, details.SchemaIdentifier)
}

// apiDocs fetches the gateway's OpenAPI document for a project's API token.
// The gateway serves documentation at its root path, scoped by the role in
// the bearer token.
func (s *Service) apiDocs(w http.ResponseWriter, r *http.Request) error {
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

	apiUserToken := strings.TrimSpace(r.URL.Query().Get("apiUserToken"))
	if apiUserToken == "" {
		return baaserr.NewValidationError("apiUserToken", "must not be blank")
	}

	token, details, err := s.store.LookupAPIToken(ctx, apiUserToken)
	if meta.IsNoRows(err) {
		return &baaserr.NotFoundError{What: "token"}
	}
	if err != nil {
		return err
	}
	if token.ProjectID != projectID {
		return &baaserr.NotFoundError{What: "project"}
	}

	r.URL.Path = "/"
	r.URL.RawQuery = ""
	r.Header.Set("Authorization", "Bearer "+apiUserToken)
	r.Header.Set(proxy.ReadOnlyDocsHeader, strconv.FormatBool(token.ReadOnly))

	return s.docsMediator.Forward(w, r, details.SchemaIdentifier)
}
