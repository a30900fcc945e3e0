package usecase

import (
	"context"
	"fmt"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
	"github.com/unmappedos-sys/unmappedOS-sub002/pkg/clock"
)

// SummaryUseCase builds the read-only operational summary
type SummaryUseCase struct {
	records ports.KillSwitchRepository
	clock   clock.Clock
}

// NewSummaryUseCase creates a new summary use case
func NewSummaryUseCase(records ports.KillSwitchRepository, clk clock.Clock) *SummaryUseCase {
	return &SummaryUseCase{records: records, clock: clk}
}

// Summarize aggregates the records of one region, or all regions when
// opts.RegionID is nil.
func (uc *SummaryUseCase) Summarize(ctx context.Context, opts domain.SummaryOptions) (*domain.KillSwitchSummary, error) {
	defaults := domain.DefaultSummaryOptions()
	if opts.Window <= 0 {
		opts.Window = defaults.Window
	}
	if opts.RecentKill <= 0 {
		opts.RecentKill = defaults.RecentKill
	}

	records, err := uc.records.List(ctx, domain.RecordFilter{RegionID: opts.RegionID})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	summary := domain.Summarize(records, opts, uc.clock.Now())
	return &summary, nil
}
