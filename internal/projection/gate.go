package projection

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// LockKey maps a user id onto the advisory-lock keyspace with FNV-1a 64.
// The mapping is deterministic: two units of work for the same user always
// contend on the identical key, and different users get different keys up
// to the hash width. The lock itself is transaction-scoped
// (pg_try_advisory_xact_lock), so there is no explicit unlock anywhere.
func LockKey(userID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(userID[:])
	return int64(h.Sum64())
}
