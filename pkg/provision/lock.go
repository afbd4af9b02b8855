package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a workspace lock can be held, so a crashed holder
// doesn't wedge the workspace forever (spec §5: "at most one provisioning
// or lifecycle operation runs concurrently per workspace_id").
const lockTTL = 5 * time.Minute

func lockKey(workspaceID uuid.UUID) string {
	return "workspace-lock:" + workspaceID.String()
}

// WorkspaceLock holds a keyed Redis lock for the duration of one
// state-changing operation against a single workspace.
type WorkspaceLock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Lock acquires the per-workspace lock, failing fast (no blocking wait) if
// another operation already holds it — the caller surfaces this as a 409.
func Lock(ctx context.Context, rdb *redis.Client, workspaceID uuid.UUID) (*WorkspaceLock, error) {
	key := lockKey(workspaceID)
	token := uuid.NewString()

	ok, err := rdb.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for workspace %s: %w", workspaceID, err)
	}
	if !ok {
		return nil, fmt.Errorf("workspace %s has a provisioning or lifecycle operation already in progress", workspaceID)
	}
	return &WorkspaceLock{rdb: rdb, key: key, token: token}, nil
}

// Release drops the lock, but only if it is still held by this token —
// guards against releasing a lock that expired and was re-acquired by
// someone else.
func (l *WorkspaceLock) Release(ctx context.Context) {
	held, err := l.rdb.Get(ctx, l.key).Result()
	if err != nil {
		return
	}
	if held == l.token {
		l.rdb.Del(ctx, l.key)
	}
}
