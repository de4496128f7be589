package perf

import (
	"context"
	"fmt"

	"github.com/odvcencio/moerouter/pkg/model"
)

// Store persists per-key metrics outside the process. It is a cache, not
// a system of record: implementations should expire entries and callers
// must tolerate missing data.
type Store interface {
	Load(ctx context.Context, modelID string, task model.TaskType) (Metrics, bool, error)
	Save(ctx context.Context, modelID string, task model.TaskType, m Metrics) error
}

// StoreKey returns the namespaced key used by external stores.
func StoreKey(modelID string, task model.TaskType) string {
	return fmt.Sprintf("moe:perf:%s:%s", modelID, task)
}
