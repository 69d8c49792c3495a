package gateway_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratobase/stratobase/core/sqlid"
	"github.com/stratobase/stratobase/gateway"
)

// mutexLocker stands in for the database advisory lock in unit tests. The
// coordinator only requires mutual exclusion around the action.
type mutexLocker struct {
	mutex sync.Mutex
}

func (l *mutexLocker) WithAdvisoryXactLock(ctx context.Context, key int64, action func() error) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return action()
}

const configTemplate = `db-uri = "postgres://app@localhost/tenants"
db-schemas = "%s"
db-anon-role = "anon"
`

func writeConfig(t *testing.T, schemasCSV string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.conf")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(configTemplate, schemasCSV)), 0644))
	return path
}

func schemasLine(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(line, "db-schemas") {
			return line
		}
	}
	t.Fatal("no db-schemas line found")
	return ""
}

func newCoordinator(t *testing.T, configFile string) *gateway.Coordinator {
	t.Helper()
	return gateway.MustNew(&gateway.Builder{
		Locker:         &mutexLocker{},
		ConfigFile:     configFile,
		TenantHost:     "localhost",
		TenantPort:     5432,
		TenantDatabase: "tenants",
	})
}

func TestAddSchema(t *testing.T) {
	path := writeConfig(t, "existing")
	coordinator := newCoordinator(t, path)

	require.NoError(t, coordinator.AddSchema(context.Background(), "ws_7_abc"))
	assert.Equal(t, `db-schemas = "existing,ws_7_abc"`, schemasLine(t, path))

	// re-adding is a no-op
	require.NoError(t, coordinator.AddSchema(context.Background(), "ws_7_abc"))
	assert.Equal(t, `db-schemas = "existing,ws_7_abc"`, schemasLine(t, path))
}

func TestAddSchemaToEmptyList(t *testing.T) {
	path := writeConfig(t, "")
	coordinator := newCoordinator(t, path)

	require.NoError(t, coordinator.AddSchema(context.Background(), "ws_7_abc"))
	assert.Equal(t, `db-schemas = "ws_7_abc"`, schemasLine(t, path))
}

func TestRemoveSchema(t *testing.T) {
	path := writeConfig(t, "alpha, ws_7_abc ,beta")
	coordinator := newCoordinator(t, path)

	require.NoError(t, coordinator.RemoveSchema(context.Background(), "ws_7_abc"))
	assert.Equal(t, `db-schemas = "alpha,beta"`, schemasLine(t, path))

	// removing a schema that is not listed leaves the rest intact
	require.NoError(t, coordinator.RemoveSchema(context.Background(), "unknown_one"))
	assert.Equal(t, `db-schemas = "alpha,beta"`, schemasLine(t, path))
}

func TestRejectsInvalidIdentifier(t *testing.T) {
	path := writeConfig(t, "alpha")
	coordinator := newCoordinator(t, path)

	err := coordinator.AddSchema(context.Background(), `bad"schema`)
	var invalid *sqlid.InvalidIdentifierError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, `db-schemas = "alpha"`, schemasLine(t, path))
}

func TestMissingSchemasLineIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.conf")
	require.NoError(t, os.WriteFile(path, []byte("db-uri = \"postgres://x\"\n"), 0644))
	coordinator := newCoordinator(t, path)

	err := coordinator.AddSchema(context.Background(), "ws_7_abc")
	assert.ErrorIs(t, err, gateway.ErrSchemasLineMissing)
}

func TestLockKeyIsStableAndScoped(t *testing.T) {
	key := gateway.LockKey("localhost", 5432, "tenants")
	assert.Equal(t, key, gateway.LockKey("localhost", 5432, "tenants"))
	assert.NotEqual(t, key, gateway.LockKey("localhost", 5432, "other"))
	assert.NotEqual(t, key, gateway.LockKey("otherhost", 5432, "tenants"))
	// fits the 32-bit advisory key space
	assert.Less(t, key, int64(1)<<32)
	assert.GreaterOrEqual(t, key, int64(0))
}

func TestConcurrentEditsLoseNoUpdates(t *testing.T) {
	path := writeConfig(t, "base")
	coordinator := newCoordinator(t, path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			schema := fmt.Sprintf("ws_%d_concurrent", n)
			assert.NoError(t, coordinator.AddSchema(context.Background(), schema))
		}(i)
	}
	wg.Wait()

	line := schemasLine(t, path)
	assert.Contains(t, line, "base")
	for i := 0; i < 20; i++ {
		assert.Contains(t, line, fmt.Sprintf("ws_%d_concurrent", i))
	}
}
