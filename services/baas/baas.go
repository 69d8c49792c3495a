package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/stratobase/stratobase/baas"
	"github.com/stratobase/stratobase/core/access"
	"github.com/stratobase/stratobase/core/csql"
	"github.com/stratobase/stratobase/core/logger"
	"github.com/stratobase/stratobase/core/secrets"
	"github.com/stratobase/stratobase/events"
	"github.com/stratobase/stratobase/gateway"
	"github.com/stratobase/stratobase/meta"
	"github.com/stratobase/stratobase/provision"
	"github.com/stratobase/stratobase/tokens"
)

// Service holds the configuration for this service
//
// use METADATA_POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	MetadataPostgres     string `env:"METADATA_POSTGRES,required" description:"connection string for the metadata Postgres DB"`
	TenantHost           string `env:"TENANT_POSTGRES_HOST,required" description:"tenant Postgres host"`
	TenantPort           int    `env:"TENANT_POSTGRES_PORT,required" description:"tenant Postgres port"`
	TenantDatabase       string `env:"TENANT_POSTGRES_DB,required" description:"tenant Postgres database name"`
	TenantUser           string `env:"TENANT_POSTGRES_USER,required" description:"tenant Postgres admin role"`
	TenantPassword       string `env:"TENANT_POSTGRES_PASSWORD,required" description:"tenant Postgres admin password"`
	TenantMinConns       int    `env:"TENANT_POSTGRES_MIN_CONNS,default=2" description:"admin pool idle connections"`
	TenantMaxConns       int    `env:"TENANT_POSTGRES_MAX_CONNS,default=10" description:"admin pool max connections"`
	GatewayURL           string `env:"GATEWAY_URL,required" description:"REST gateway base URL"`
	GatewayConfFile      string `env:"GATEWAY_CONF_FILE,required" description:"path of the gateway's config file"`
	GatewayPrivateKeyPEM string `env:"GATEWAY_JWT_PRIVATE_KEY_PEM,required" description:"RS512 private key for gateway-facing tokens"`
	AppPublicKeyPEM      string `env:"APP_JWT_PUBLIC_KEY_PEM,required" description:"RS512 public key verifying end-user bearer tokens"`
	EncryptionKeyHex     string `env:"ENCRYPTION_KEY_HEX,required" description:"hex-encoded AES-256 key for tenant owner passwords"`
	AppURL               string `env:"APP_URL,required" description:"public base URL of this service"`
	KafkaBrokers         string `env:"KAFKA_BROKERS,default=" description:"comma-separated Kafka brokers for lifecycle events, empty disables"`
	Port                 string `env:"PORT,default=3000" description:"listen port"`
}

func main() {
	godotenv.Load()

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logger.InitLogger(logrus.InfoLevel)
	log := logger.Default()

	metaDB, err := csql.OpenWithSchema(service.MetadataPostgres, "baas")
	if err != nil {
		panic(err)
	}
	defer metaDB.Close()

	store := meta.MustNew(metaDB)

	provisioner := provision.MustNew(&provision.Builder{
		ConnOptions: provision.ConnOptions{
			Host:     service.TenantHost,
			Port:     service.TenantPort,
			User:     service.TenantUser,
			Password: service.TenantPassword,
			Database: service.TenantDatabase,
			MinConns: service.TenantMinConns,
			MaxConns: service.TenantMaxConns,
		},
	})
	defer provisioner.Close()

	coordinator := gateway.MustNew(&gateway.Builder{
		Locker:         metaDB,
		ConfigFile:     service.GatewayConfFile,
		TenantHost:     service.TenantHost,
		TenantPort:     service.TenantPort,
		TenantDatabase: service.TenantDatabase,
	})

	minter, err := tokens.NewMinter([]byte(service.GatewayPrivateKeyPEM))
	if err != nil {
		panic(err)
	}
	cipher, err := secrets.NewCipher(service.EncryptionKeyHex)
	if err != nil {
		panic(err)
	}
	appKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(service.AppPublicKeyPEM))
	if err != nil {
		panic(err)
	}

	var brokers []string
	if service.KafkaBrokers != "" {
		brokers = strings.Split(service.KafkaBrokers, ",")
	}
	publisher := events.MustNew(&events.Builder{Brokers: brokers})
	defer publisher.Close()

	router := mux.NewRouter()
	logger.AddRequestID(router)

	baas.MustNew(&baas.Builder{
		Store:       store,
		Provisioner: provisioner,
		Coordinator: coordinator,
		Minter:      minter,
		Cipher:      cipher,
		Publisher:   publisher,
		GatewayURL:  service.GatewayURL,
		AppHost:     appHost(service.AppURL),
		Bearer:      access.NewBearerMiddleware(&access.BearerMiddlewareBuilder{PublicKey: appKey}),
		Router:      router,
	})

	handler := handlers.CombinedLoggingHandler(os.Stdout,
		handlers.CORS(
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Prefer",
				access.APIKeyHeader, access.ProjectIDHeader}),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			handlers.AllowedOrigins([]string{"*"}),
		)(router))

	log.Infoln("listen on port :" + service.Port)
	log.Fatal(http.ListenAndServe(":"+service.Port, handler))
}

// appHost strips the scheme from the configured public URL; the OpenAPI
// document wants a bare host.
func appHost(appURL string) string {
	host := strings.TrimPrefix(appURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}
