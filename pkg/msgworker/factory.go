package msgworker

import (
	"context"

	coreconfig "github.com/AzielCF/az-crm/core/config"
)

// NewStartedPool builds a pool from configuration and starts it.
func NewStartedPool(ctx context.Context, cfg coreconfig.WorkerPoolConfig) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = 6
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 250
	}

	pool := NewPool(size, queue)
	pool.Start(ctx)
	return pool
}
