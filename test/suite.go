// Package test contains the integration test suite. The suite starts a
// throwaway Postgres container, provisions real tenant schemas against it
// and runs the full HTTP service in-process, with the REST gateway replaced
// by a stub server.
package test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stratobase/stratobase/baas"
	"github.com/stratobase/stratobase/core/access"
	"github.com/stratobase/stratobase/core/csql"
	"github.com/stratobase/stratobase/core/secrets"
	"github.com/stratobase/stratobase/gateway"
	"github.com/stratobase/stratobase/meta"
	"github.com/stratobase/stratobase/provision"
	"github.com/stratobase/stratobase/tokens"
)

type IntegrationTestSuite struct {
	suite.Suite

	postgresContainer testcontainers.Container
	postgresHost      string
	postgresPort      int
	postgresUser      string
	postgresPassword  string
	postgresDB        string

	metaDB      *csql.DB
	store       *meta.Store
	provisioner *provision.Provisioner
	configFile  string

	appPrivateKey *rsa.PrivateKey
	server        *httptest.Server
	stubGateway   *httptest.Server
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	s.postgresUser = "testuser"
	s.postgresPassword = "testpass"
	s.postgresDB = "testdb"

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     s.postgresUser,
			"POSTGRES_PASSWORD": s.postgresPassword,
			"POSTGRES_DB":       s.postgresDB,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	host, err := pgC.Host(ctx)
	s.Require().NoError(err)
	port, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)
	s.postgresHost = host
	s.postgresPort, err = strconv.Atoi(port.Port())
	s.Require().NoError(err)

	// postgres may accept connections before initdb finished restarting it
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		s.postgresHost, s.postgresPort, s.postgresUser, s.postgresPassword, s.postgresDB)
	deadline := time.Now().Add(30 * time.Second)
	for {
		s.metaDB, err = csql.OpenWithSchema(dsn, "baas")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Second)
	}
	s.Require().NoError(err)

	s.store = meta.MustNew(s.metaDB)

	s.provisioner = provision.MustNew(&provision.Builder{
		ConnOptions: provision.ConnOptions{
			Host:     s.postgresHost,
			Port:     s.postgresPort,
			User:     s.postgresUser,
			Password: s.postgresPassword,
			Database: s.postgresDB,
		},
	})

	s.configFile = filepath.Join(s.T().TempDir(), "gateway.conf")
	s.Require().NoError(os.WriteFile(s.configFile, []byte(
		"db-uri = \"postgres://localhost/testdb\"\ndb-schemas = \"\"\n"), 0o644))

	coordinator := gateway.MustNew(&gateway.Builder{
		Locker:         s.metaDB,
		ConfigFile:     s.configFile,
		TenantHost:     s.postgresHost,
		TenantPort:     s.postgresPort,
		TenantDatabase: s.postgresDB,
	})

	gatewayKey, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	minter, err := tokens.NewMinter(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(gatewayKey),
	}))
	s.Require().NoError(err)

	s.appPrivateKey, err = rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)

	cipherKey := make([]byte, 32)
	_, err = rand.Read(cipherKey)
	s.Require().NoError(err)
	cipher, err := secrets.NewCipher(hex.EncodeToString(cipherKey))
	s.Require().NoError(err)

	s.stubGateway = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))

	router := mux.NewRouter()
	baas.MustNew(&baas.Builder{
		Store:       s.store,
		Provisioner: s.provisioner,
		Coordinator: coordinator,
		Minter:      minter,
		Cipher:      cipher,
		GatewayURL:  s.stubGateway.URL,
		AppHost:     "app.test",
		Bearer: access.NewBearerMiddleware(&access.BearerMiddlewareBuilder{
			PublicKey: &s.appPrivateKey.PublicKey,
		}),
		Router: router,
	})
	s.server = httptest.NewServer(router)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.server != nil {
		s.server.Close()
	}
	if s.stubGateway != nil {
		s.stubGateway.Close()
	}
	if s.provisioner != nil {
		s.provisioner.Close()
	}
	if s.metaDB != nil {
		s.metaDB.Close()
	}
	if s.postgresContainer != nil {
		s.Require().NoError(s.postgresContainer.Terminate(ctx))
	}
}

// signAppToken mints an end-user bearer token the way the application's
// identity service would.
func (s *IntegrationTestSuite) signAppToken(userID int64, email string, workspaces []int64) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS512, jwt.MapClaims{
		"userId":     userID,
		"email":      email,
		"workspaces": workspaces,
		"iat":        time.Now().Unix(),
	}).SignedString(s.appPrivateKey)
	s.Require().NoError(err)
	return token
}
