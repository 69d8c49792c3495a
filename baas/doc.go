/*Package baas wires the provisioning control plane and the data-plane
proxy into one HTTP service.

The control plane provisions projects (isolated tenant schemas with their
own owning role), tables and columns, and keeps the REST gateway's schema
exposure in sync. The data plane mediates every request to the gateway
through a signed, role-scoped credential, so the gateway enforces per-row
ownership.

Routes:

	POST   /workspaces/{workspaceId}/projects
	GET    /workspaces/{workspaceId}/projects/{projectId}
	DELETE /workspaces/{workspaceId}/projects/{projectId}
	POST   /workspaces/{workspaceId}/projects/{projectId}/tables
	GET    /workspaces/{workspaceId}/projects/{projectId}/tables
	GET    /workspaces/{workspaceId}/projects/{projectId}/tables/{tableId}
	DELETE /workspaces/{workspaceId}/projects/{projectId}/tables/{tableId}
	POST   /workspaces/{workspaceId}/projects/{projectId}/tables/{tableId}/columns
	DELETE /workspaces/{workspaceId}/projects/{projectId}/tables/{tableId}/columns/{columnId}
	POST   /workspaces/{workspaceId}/projects/{projectId}/api-tokens
	GET    /workspaces/{workspaceId}/projects/{projectId}/api-tokens
	DELETE /workspaces/{workspaceId}/projects/{projectId}/api-tokens/{apiTokenId}
	ANY    /user-data/projects/{projectId}/tables/{tableId}
	GET    /api/docs/projects/{projectId}?apiUserToken=...
	ANY    /api/data/*

All control-plane and user-data routes require an end-user bearer token.
The external data API authenticates with the project's API token in the
x-baas-api-key and x-baas-project-id headers.
*/
package baas
