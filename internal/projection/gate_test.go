package projection

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLockKey_DeterministicPerUser(t *testing.T) {
	userID := uuid.New()
	assert.Equal(t, LockKey(userID), LockKey(userID),
		"same user must always map to the identical lock key")
}

func TestLockKey_DistinctUsersDistinctKeys(t *testing.T) {
	seen := make(map[int64]uuid.UUID)
	for i := 0; i < 1000; i++ {
		id := uuid.New()
		key := LockKey(id)
		if prev, ok := seen[key]; ok {
			t.Fatalf("lock key collision between %s and %s", prev, id)
		}
		seen[key] = id
	}
}
