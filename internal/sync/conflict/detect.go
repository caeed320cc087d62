// Package conflict provides field-comparison conflict detection and pluggable
// resolution strategies for the offline sync engine. Resolution is not
// causally ordered: two payloads either differ on a field or they do not.
package conflict

import (
	"reflect"
	"sort"
	"time"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
)

// proneFields are the fields whose divergence alone declares a conflict,
// before full enumeration.
var proneFields = []string{"quantity", "unitPrice", "discount", "status"}

// HasConflict reports whether the client and server payloads differ on any
// conflict-prone field.
func HasConflict(client, server map[string]interface{}) bool {
	for _, field := range proneFields {
		cv, cok := client[field]
		sv, sok := server[field]
		if cok != sok {
			return true
		}
		if cok && !valuesEqual(cv, sv) {
			return true
		}
	}
	return false
}

// ServerNewer reports whether the server record was updated strictly after
// the mutation was enqueued locally.
func ServerNewer(server map[string]interface{}, createdAt int64) bool {
	updated := TimestampOf(server, "updatedAt", "createdAt")
	return updated > createdAt
}

// Detect enumerates one SyncConflict per field of the mutation's payload that
// differs from the server's current record. The full payload is enumerated,
// not just the prone set. Fields are emitted in sorted order so results are
// deterministic.
func Detect(m *models.PendingMutation, client, server map[string]interface{}) []models.SyncConflict {
	fields := make([]string, 0, len(client))
	for field := range client {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	now := time.Now().UnixMilli()

	var conflicts []models.SyncConflict
	for _, field := range fields {
		cv := client[field]
		sv, ok := server[field]
		if ok && valuesEqual(cv, sv) {
			continue
		}
		conflicts = append(conflicts, models.SyncConflict{
			MutationID:  m.ID,
			Type:        m.Type,
			ClientData:  client,
			ServerData:  server,
			Field:       field,
			ClientValue: cv,
			ServerValue: sv,
			Timestamp:   now,
		})
	}

	return conflicts
}

// valuesEqual compares two JSON-decoded values.
func valuesEqual(a, b interface{}) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// asNumber normalizes numeric JSON values to float64.
func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// TimestampOf extracts the first present timestamp field as epoch
// milliseconds. Numeric values are taken as epoch millis; strings are parsed
// as RFC 3339. Returns 0 when no key yields a usable timestamp.
func TimestampOf(data map[string]interface{}, keys ...string) int64 {
	for _, key := range keys {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch ts := v.(type) {
		case float64:
			return int64(ts)
		case string:
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				return t.UnixMilli()
			}
		}
	}
	return 0
}
