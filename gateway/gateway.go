/*Package gateway keeps the REST gateway's schema-exposure configuration in
sync with the tenant schemas that exist.

The gateway reads the schemas it exposes from a "db-schemas" line in its
config file. The file edit is a read-modify-write of a CSV list and is not
atomic, so every edit runs under a database-backed advisory lock scoped to
the tenant database it configures. The lock serializes edits across
goroutines and across process instances sharing the metadata database.
*/
package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/stratobase/stratobase/core/logger"
	"github.com/stratobase/stratobase/core/sqlid"
)

// ErrSchemasLineMissing is returned when the config file has no db-schemas
// line. The file must be pre-seeded with one; silently skipping the edit
// would leave the gateway and the database out of sync.
var ErrSchemasLineMissing = errors.New("gateway config file has no db-schemas line")

var dbSchemasRegexp = regexp.MustCompile(`^(\s*db-schemas\s*=\s*")(.*)(".*)$`)

// Locker serializes an action under a numeric advisory lock. Implemented by
// csql.DB with a transaction-scoped advisory lock.
type Locker interface {
	WithAdvisoryXactLock(ctx context.Context, key int64, action func() error) error
}

// Coordinator serializes and applies changes to the gateway config file.
type Coordinator struct {
	locker     Locker
	configFile string
	lockKey    int64
}

// Builder assembles a Coordinator.
type Builder struct {
	// Locker is the metadata database providing the advisory lock. Mandatory.
	Locker Locker
	// ConfigFile is the path of the gateway's config file. Mandatory.
	ConfigFile string
	// TenantHost, TenantPort and TenantDatabase identify the tenant database
	// the gateway serves; they scope the lock key so deployments sharing
	// code but not data do not contend.
	TenantHost     string
	TenantPort     int
	TenantDatabase string
}

// MustNew creates a Coordinator.
func MustNew(b *Builder) *Coordinator {
	if b.Locker == nil {
		panic("gateway: locker is missing")
	}
	if b.ConfigFile == "" {
		panic("gateway: config file is missing")
	}
	return &Coordinator{
		locker:     b.Locker,
		configFile: b.ConfigFile,
		lockKey:    LockKey(b.TenantHost, b.TenantPort, b.TenantDatabase),
	}
}

// LockKey derives the 32-bit advisory lock key for a tenant database from
// the first 8 hex digits of md5(host:port/name).
func LockKey(host string, port int, database string) int64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d/%s", host, port, database)))
	key, _ := strconv.ParseInt(hex.EncodeToString(sum[:])[:8], 16, 64)
	return key
}

// AddSchema adds a schema to the gateway's exposure list. Adding a schema
// that is already listed is a no-op.
func (c *Coordinator) AddSchema(ctx context.Context, schema string) error {
	return c.modifySchemas(ctx, schema, true)
}

// RemoveSchema removes a schema from the gateway's exposure list.
func (c *Coordinator) RemoveSchema(ctx context.Context, schema string) error {
	return c.modifySchemas(ctx, schema, false)
}

func (c *Coordinator) modifySchemas(ctx context.Context, schema string, add bool) error {
	if !sqlid.IsValidIdentifier(schema) {
		return &sqlid.InvalidIdentifierError{Identifier: schema}
	}

	rlog := logger.FromContext(ctx).WithField("lockKey", c.lockKey)
	rlog.Debugln("acquiring gateway config lock")

	err := c.locker.WithAdvisoryXactLock(ctx, c.lockKey, func() error {
		return rewriteSchemasLine(c.configFile, schema, add)
	})
	if err != nil {
		rlog.Errorln("gateway config edit failed:", err)
		return err
	}
	rlog.Debugln("gateway config lock released")
	return nil
}

// rewriteSchemasLine performs the actual read-modify-write of the single
// db-schemas line. Must only be called while holding the advisory lock.
func rewriteSchemasLine(configFile, schema string, add bool) error {
	info, err := os.Stat(configFile)
	if err != nil {
		return fmt.Errorf("cannot stat gateway config file: %w", err)
	}
	content, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("cannot read gateway config file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	found := false
	for i, line := range lines {
		match := dbSchemasRegexp.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		found = true

		schemas := parseSchemaSet(match[2])
		if add {
			if schemas[schema] {
				return nil
			}
			if match[2] == "" {
				lines[i] = match[1] + schema + match[3]
			} else {
				lines[i] = match[1] + match[2] + "," + schema + match[3]
			}
		} else {
			delete(schemas, schema)
			var remaining []string
			for _, entry := range strings.Split(match[2], ",") {
				entry = strings.TrimSpace(entry)
				if entry != "" && entry != schema {
					remaining = append(remaining, entry)
				}
			}
			lines[i] = match[1] + strings.Join(remaining, ",") + match[3]
		}
		break
	}

	if !found {
		return ErrSchemasLineMissing
	}

	return os.WriteFile(configFile, []byte(strings.Join(lines, "\n")), info.Mode().Perm())
}

func parseSchemaSet(csv string) map[string]bool {
	set := map[string]bool{}
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			set[entry] = true
		}
	}
	return set
}
