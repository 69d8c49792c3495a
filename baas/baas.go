package baas

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/core/secrets"
	"github.com/stratobase/stratobase/events"
	"github.com/stratobase/stratobase/gateway"
	"github.com/stratobase/stratobase/meta"
	"github.com/stratobase/stratobase/provision"
	"github.com/stratobase/stratobase/proxy"
	"github.com/stratobase/stratobase/tokens"
)

// Service is the provisioning control plane plus the data-plane proxy
// routes.
type Service struct {
	store       *meta.Store
	provisioner *provision.Provisioner
	coordinator *gateway.Coordinator
	minter      *tokens.Minter
	cipher      *secrets.Cipher
	publisher   *events.Publisher

	dataMediator *proxy.Mediator
	docsMediator *proxy.Mediator
}

// Builder assembles the Service and registers all routes on the router.
type Builder struct {
	// Store is the metadata registry. Mandatory.
	Store *meta.Store
	// Provisioner executes tenant DDL. Mandatory.
	Provisioner *provision.Provisioner
	// Coordinator synchronizes the gateway's schema exposure. Mandatory.
	Coordinator *gateway.Coordinator
	// Minter signs gateway-facing tokens. Mandatory.
	Minter *tokens.Minter
	// Cipher protects tenant owner passwords at rest. Mandatory.
	Cipher *secrets.Cipher
	// Publisher emits lifecycle events. Optional, defaults to disabled.
	Publisher *events.Publisher
	// GatewayURL is the REST gateway base URL. Mandatory.
	GatewayURL string
	// AppHost is the public host of this service, used when rewriting the
	// OpenAPI documentation. Mandatory.
	AppHost string
	// Bearer authenticates end users on the control-plane and user-data
	// routes. Mandatory.
	Bearer mux.MiddlewareFunc
	// Router receives all routes. Mandatory.
	Router *mux.Router
}

// DataAPIBasePath is the public prefix of the external data API.
const DataAPIBasePath = "/api/data"

// MustNew creates the Service and registers its routes.
func MustNew(b *Builder) *Service {
	if b.Store == nil || b.Provisioner == nil || b.Coordinator == nil ||
		b.Minter == nil || b.Cipher == nil || b.Router == nil || b.Bearer == nil {
		panic("baas: incomplete builder")
	}
	publisher := b.Publisher
	if publisher == nil {
		publisher = events.MustNew(&events.Builder{})
	}

	s := &Service{
		store:       b.Store,
		provisioner: b.Provisioner,
		coordinator: b.Coordinator,
		minter:      b.Minter,
		cipher:      b.Cipher,
		publisher:   publisher,
		dataMediator: proxy.MustNew(&proxy.Builder{
			TargetURL:  b.GatewayURL,
			SelfHandle: proxy.DataResponseHandler(),
		}),
		docsMediator: proxy.MustNew(&proxy.Builder{
			TargetURL:  b.GatewayURL,
			SelfHandle: proxy.DocsResponseHandler(b.AppHost, DataAPIBasePath),
		}),
	}
	s.handleRoutes(b.Router, b.Bearer)
	return s
}

func (s *Service) handleRoutes(router *mux.Router, bearer mux.MiddlewareFunc) {
	// control plane and in-app data access require an end-user bearer token
	authed := router.PathPrefix("/").Subrouter()
	authed.Use(bearer)

	authed.HandleFunc("/workspaces/{workspaceId}/projects",
		errorHandler(s.createProjectWithAuth)).Methods(http.MethodPost)
	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}",
		errorHandler(s.getProjectWithAuth)).Methods(http.MethodGet)
	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}",
		errorHandler(s.deleteProjectWithAuth)).Methods(http.MethodDelete)

	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/tables",
		errorHandler(s.createTableWithAuth)).Methods(http.MethodPost)
	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/tables",
		errorHandler(s.getTablesWithAuth)).Methods(http.MethodGet)
	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/tables/{tableId}",
		errorHandler(s.getTableWithAuth)).Methods(http.MethodGet)
	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/tables/{tableId}",
		errorHandler(s.deleteTableWithAuth)).Methods(http.MethodDelete)

	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/tables/{tableId}/columns",
		errorHandler(s.addColumnWithAuth)).Methods(http.MethodPost)
	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/tables/{tableId}/columns/{columnId}",
		errorHandler(s.dropColumnWithAuth)).Methods(http.MethodDelete)

	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/api-tokens",
		errorHandler(s.upsertAPITokenWithAuth)).Methods(http.MethodPost)
	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/api-tokens",
		errorHandler(s.getAPITokenWithAuth)).Methods(http.MethodGet)
	authed.HandleFunc("/workspaces/{workspaceId}/projects/{projectId}/api-tokens/{apiTokenId}",
		errorHandler(s.deleteAPITokenWithAuth)).Methods(http.MethodDelete)

	authed.HandleFunc("/user-data/projects/{projectId}/tables/{tableId}",
		errorHandler(s.userTableData))

	authed.HandleFunc("/api/docs/projects/{projectId}",
		errorHandler(s.apiDocs)).Methods(http.MethodGet)

	// the external data API authenticates with the project's API token,
	// not an end-user bearer token
	router.PathPrefix(DataAPIBasePath + "/").HandlerFunc(
		errorHandler(s.externalAPIData))
}

// errorHandler adapts an error-returning handler to http.HandlerFunc.
func errorHandler(handle func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := handle(w, r); err != nil {
			baaserr.WriteError(w, err)
		}
	}
}
