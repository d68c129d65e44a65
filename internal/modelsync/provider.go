// Package modelsync keeps the model catalog current. A scheduler fans out
// to registered providers on an interval, merges their records under a
// deterministic policy, and lands the result atomically in storage.
package modelsync

import (
	"context"

	"github.com/corralhq/corral/pkg/models"
)

// Provider fetches model pricing and capability records from one source.
type Provider interface {
	// Name is the unique provider name (e.g. "anthropic").
	Name() string
	// FetchModels retrieves the source's current model records.
	FetchModels(ctx context.Context) ([]models.ModelInfo, error)
	// IsOfficialSource is true when the source is the model vendor itself.
	// Official records win catalog merges.
	IsOfficialSource() bool
	// Priority ranks this source among unofficial ones. Lower wins.
	Priority() int
	// SupportsStreaming is true when the source can stream incremental
	// catalog updates rather than full snapshots.
	SupportsStreaming() bool
	// HealthCheck verifies the source is reachable.
	HealthCheck(ctx context.Context) error
}
