package test

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/suite"
)

func TestIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run the docker-backed integration suite")
	}
	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) doJSON(method, path, bearer string, body interface{}) (*http.Response, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	request.Header.Set("Authorization", "Bearer "+bearer)
	request.Header.Set("Content-Type", "application/json")

	response, err := http.DefaultClient.Do(request)
	s.Require().NoError(err)
	defer response.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(response.Body).Decode(&decoded)
	return response, decoded
}

func (s *IntegrationTestSuite) createProject(bearer string, workspaceID int64, name string) int64 {
	response, body := s.doJSON(http.MethodPost,
		fmt.Sprintf("/workspaces/%d/projects", workspaceID), bearer,
		map[string]interface{}{"name": name, "description": "integration test"})
	s.Require().Equal(http.StatusCreated, response.StatusCode, body)
	return int64(body["id"].(float64))
}

func (s *IntegrationTestSuite) schemaIdentifier(projectID int64) string {
	var identifier string
	err := s.metaDB.QueryRow(
		`SELECT pg_schema_identifier FROM baas."project" WHERE project_id=$1`,
		projectID).Scan(&identifier)
	s.Require().NoError(err)
	return identifier
}

func (s *IntegrationTestSuite) schemaExists(schema string) bool {
	var exists bool
	err := s.metaDB.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name=$1)`,
		schema).Scan(&exists)
	s.Require().NoError(err)
	return exists
}

func (s *IntegrationTestSuite) TestCreateProjectProvisionsTenant() {
	bearer := s.signAppToken(1, "alice@example.com", []int64{7})
	projectID := s.createProject(bearer, 7, "Acme Corp")

	schema := s.schemaIdentifier(projectID)
	s.Regexp(regexp.MustCompile(`^ws_7_[0-9a-f]{24}$`), schema)
	s.True(s.schemaExists(schema))

	// the owner role equals the schema identifier
	var roleExists bool
	err := s.metaDB.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname=$1)`, schema).Scan(&roleExists)
	s.Require().NoError(err)
	s.True(roleExists)

	config, err := os.ReadFile(s.configFile)
	s.Require().NoError(err)
	s.Contains(string(config), schema)
}

func (s *IntegrationTestSuite) TestCreateTableWithRowLevelSecurity() {
	bearer := s.signAppToken(2, "bob@example.com", []int64{8})
	projectID := s.createProject(bearer, 8, "HR")

	response, body := s.doJSON(http.MethodPost,
		fmt.Sprintf("/workspaces/8/projects/%d/tables", projectID), bearer,
		map[string]interface{}{
			"name": "Employee List",
			"columns": []map[string]interface{}{
				{"name": "Full Name", "columnType": "TEXT", "required": true},
			},
		})
	s.Require().Equal(http.StatusCreated, response.StatusCode, body)
	s.Equal("employee_list", body["pgTableIdentifier"])
	s.Len(body["generatedColumns"], 4)

	columns := body["columns"].([]interface{})
	s.Require().Len(columns, 1)
	s.Equal("full_name", columns[0].(map[string]interface{})["pgColumnIdentifier"])

	schema := s.schemaIdentifier(projectID)
	var enabled, forced bool
	err := s.metaDB.QueryRow(`
		SELECT c.relrowsecurity, c.relforcerowsecurity
		FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname=$1 AND c.relname='employee_list'`, schema).Scan(&enabled, &forced)
	s.Require().NoError(err)
	s.True(enabled)
	s.True(forced)
}

func (s *IntegrationTestSuite) TestDuplicateTableNameConflicts() {
	bearer := s.signAppToken(3, "carol@example.com", []int64{9})
	projectID := s.createProject(bearer, 9, "Sales")

	table := map[string]interface{}{
		"name":    "Leads",
		"columns": []map[string]interface{}{},
	}
	path := fmt.Sprintf("/workspaces/9/projects/%d/tables", projectID)
	response, _ := s.doJSON(http.MethodPost, path, bearer, table)
	s.Require().Equal(http.StatusCreated, response.StatusCode)

	// a different display name mapping to the same identifier collides
	table["name"] = "leads"
	response, body := s.doJSON(http.MethodPost, path, bearer, table)
	s.Equal(http.StatusConflict, response.StatusCode)
	s.Contains(body["message"], "leads")
}

func (s *IntegrationTestSuite) TestFullTableModificationBlocked() {
	bearer := s.signAppToken(4, "dave@example.com", []int64{10})
	projectID := s.createProject(bearer, 10, "Ops")

	response, body := s.doJSON(http.MethodPost,
		fmt.Sprintf("/workspaces/10/projects/%d/tables", projectID), bearer,
		map[string]interface{}{
			"name": "Machines",
			"columns": []map[string]interface{}{
				{"name": "Label", "columnType": "TEXT", "required": false},
			},
		})
	s.Require().Equal(http.StatusCreated, response.StatusCode, body)
	tableID := int64(body["id"].(float64))

	// PUT without a query-string predicate must be rejected at the edge
	response, body = s.doJSON(http.MethodPut,
		fmt.Sprintf("/user-data/projects/%d/tables/%d", projectID, tableID), bearer,
		map[string]interface{}{"id": 1, "label": "x"})
	s.Equal(http.StatusBadRequest, response.StatusCode, body)
}

func (s *IntegrationTestSuite) TestAPITokenIsStructurallyReadOnly() {
	bearer := s.signAppToken(5, "erin@example.com", []int64{11})
	projectID := s.createProject(bearer, 11, "Public Data")

	response, body := s.doJSON(http.MethodPost,
		fmt.Sprintf("/workspaces/11/projects/%d/api-tokens", projectID), bearer, nil)
	s.Require().Equal(http.StatusCreated, response.StatusCode, body)
	s.Equal(true, body["readOnly"])

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(body["token"].(string), claims)
	s.Require().NoError(err)
	s.Equal(s.schemaIdentifier(projectID), claims["role"])
	s.Equal(true, claims["apiUser"])
	// no email claim: the row-ownership policy can never match
	s.NotContains(claims, "email")
}

func (s *IntegrationTestSuite) TestDeleteProjectCascades() {
	bearer := s.signAppToken(6, "frank@example.com", []int64{12})
	projectID := s.createProject(bearer, 12, "Doomed")
	schema := s.schemaIdentifier(projectID)

	response, _ := s.doJSON(http.MethodPost,
		fmt.Sprintf("/workspaces/12/projects/%d/tables", projectID), bearer,
		map[string]interface{}{
			"name": "Rows",
			"columns": []map[string]interface{}{
				{"name": "Value", "columnType": "INTEGER", "required": false},
			},
		})
	s.Require().Equal(http.StatusCreated, response.StatusCode)
	response, _ = s.doJSON(http.MethodPost,
		fmt.Sprintf("/workspaces/12/projects/%d/api-tokens", projectID), bearer, nil)
	s.Require().Equal(http.StatusCreated, response.StatusCode)

	response, _ = s.doJSON(http.MethodDelete,
		fmt.Sprintf("/workspaces/12/projects/%d", projectID), bearer, nil)
	s.Require().Equal(http.StatusOK, response.StatusCode)

	var count int
	err := s.metaDB.QueryRow(`
		SELECT (SELECT count(*) FROM baas."table" WHERE project_id=$1)
		     + (SELECT count(*) FROM baas."api_token" WHERE project_id=$1)`,
		projectID).Scan(&count)
	s.Require().NoError(err)
	s.Zero(count)

	s.False(s.schemaExists(schema))

	config, err := os.ReadFile(s.configFile)
	s.Require().NoError(err)
	s.False(strings.Contains(string(config), schema))
}

func (s *IntegrationTestSuite) TestForeignWorkspaceLooksLikeNotFound() {
	owner := s.signAppToken(7, "grace@example.com", []int64{13})
	projectID := s.createProject(owner, 13, "Private")

	intruder := s.signAppToken(8, "mallory@example.com", []int64{99})
	response, _ := s.doJSON(http.MethodGet,
		fmt.Sprintf("/workspaces/13/projects/%d", projectID), intruder, nil)
	s.Equal(http.StatusNotFound, response.StatusCode)
}
