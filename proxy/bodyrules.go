package proxy

import (
	"sort"
	"strings"
	"time"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/provision"
)

// CheckNoGeneratedColumns rejects write bodies that set any of the four
// generated columns. PUT is the one exception for "id": the gateway
// requires the primary key in the body for a full replace.
//
// The check must run on the caller's original body, before any server-side
// fields are injected.
func CheckNoGeneratedColumns(method string, document interface{}) error {
	forbidden := map[string]bool{}
	for _, name := range provision.GeneratedColumnNames() {
		forbidden[name] = true
	}
	if strings.ToLower(method) == "put" {
		delete(forbidden, provision.GeneratedColumnID)
	}

	found := map[string]bool{}
	collectForbidden(document, forbidden, found)
	if len(found) == 0 {
		return nil
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, "'"+name+"'")
	}
	sort.Strings(names)
	return baaserr.NewValidationError("body",
		"these generated columns are found in your request: "+strings.Join(names, ", ")+
			". Generated columns are not updateable, remove them and try again")
}

func collectForbidden(document interface{}, forbidden, found map[string]bool) {
	switch doc := document.(type) {
	case []interface{}:
		for _, element := range doc {
			collectForbidden(element, forbidden, found)
		}
	case map[string]interface{}:
		for key := range doc {
			if forbidden[key] {
				found[key] = true
			}
		}
	}
}

// FillRequiredColumns injects the server-controlled columns into a write
// body: creator is forced to the authenticated email so the row-ownership
// policy can match, updated_at is forced to now. Always runs after
// CheckNoGeneratedColumns.
func FillRequiredColumns(document interface{}, email string, now time.Time) {
	switch doc := document.(type) {
	case []interface{}:
		for _, element := range doc {
			FillRequiredColumns(element, email, now)
		}
	case map[string]interface{}:
		doc[provision.GeneratedColumnCreator] = email
		doc[provision.GeneratedColumnUpdatedAt] = now.UTC().Format(time.RFC3339Nano)
	}
}
