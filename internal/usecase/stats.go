package usecase

import (
	"context"

	"github.com/evgenyvinnik/checkout-api/internal/breaker"
)

// RetentionStatsQuery aggregates operational counters for the read-only
// stats endpoint: retention lifecycle counts plus breaker states.
type RetentionStatsQuery struct {
	repo     StatsRepo
	breakers *breaker.Registry
}

func NewRetentionStatsQuery(repo StatsRepo, breakers *breaker.Registry) *RetentionStatsQuery {
	return &RetentionStatsQuery{repo: repo, breakers: breakers}
}

type RetentionStatsOutput struct {
	*RetentionStats
	Breakers map[string]string `json:"breakers"`
}

func (uc *RetentionStatsQuery) Execute(ctx context.Context) (*RetentionStatsOutput, error) {
	stats, err := uc.repo.RetentionStats(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[string]string)
	if uc.breakers != nil {
		for name, st := range uc.breakers.Snapshot() {
			states[name] = st.String()
		}
	}
	return &RetentionStatsOutput{RetentionStats: stats, Breakers: states}, nil
}
