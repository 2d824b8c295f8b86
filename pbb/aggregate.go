/*
aggregate.go - Village and hamlet achievement dashboards

PURPOSE:
  Rolls hamlet targets and recorded payments up to village and hamlet
  granularity and computes achievement percentages.

DOUBLE-COUNTING:
  A flat villages x hamlets x payments join repeats every hamlet target once
  per payment row. Village totals are therefore built from two independent
  grouped sums (targets by village, payments by village) joined on village
  id in memory. The two sums are read concurrently.

  Hamlet totals have targets and payments at the same grain, so one grouped
  sum of payments by hamlet is combined with the hamlet rows directly.

ACHIEVEMENT:
  AchievementPercentage(paid, target): round half-up to 2 dp, 0 when
  target is 0. See money.go.

SEE ALSO:
  - report.go: Row-level counterpart
  - engine.go: Applies caller scope before calling these
*/
package pbb

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// VillageDashboard returns one row per village, ordered by village name.
// Villages without hamlets or payments report zero totals.
func VillageDashboard(ctx context.Context, s Store) ([]VillageDashboardRow, error) {
	var (
		villages []Village
		targets  map[VillageID]TargetTotals
		paid     map[VillageID]PaidTotals
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		villages, err = s.ListVillages(gctx)
		if err != nil {
			return fmt.Errorf("list villages: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		targets, err = s.SumTargetsByVillage(gctx)
		if err != nil {
			return fmt.Errorf("sum hamlet targets: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		paid, err = s.SumPaymentsByVillage(gctx)
		if err != nil {
			return fmt.Errorf("sum payments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]VillageDashboardRow, 0, len(villages))
	for _, v := range villages {
		t := targets[v.ID]
		p := paid[v.ID]
		row := VillageDashboardRow{
			VillageID:       v.ID,
			VillageName:     v.Name,
			TotalSPPTTarget: t.SPPT,
			TotalPBBTarget:  zeroIfUnset(t.PBB),
			TotalSPPTPaid:   p.SPPT,
			TotalPBBPaid:    zeroIfUnset(p.PBB),
		}
		row.AchievementPercentage = AchievementPercentage(row.TotalPBBPaid, row.TotalPBBTarget)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].VillageName < rows[j].VillageName
	})
	return rows, nil
}

// HamletDashboard returns one row per hamlet matching filter, ordered by
// village name, hamlet name, then hamlet id.
func HamletDashboard(ctx context.Context, s Store, filter HamletFilter) ([]HamletDashboardRow, error) {
	hamlets, err := s.ListHamlets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list hamlets: %w", err)
	}
	villages, err := s.ListVillages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list villages: %w", err)
	}
	paid, err := s.SumPaymentsByHamlet(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("sum payments by hamlet: %w", err)
	}

	names := make(map[VillageID]string, len(villages))
	for _, v := range villages {
		names[v.ID] = v.Name
	}

	rows := make([]HamletDashboardRow, 0, len(hamlets))
	for _, h := range hamlets {
		p := paid[h.ID]
		row := HamletDashboardRow{
			HamletID:    h.ID,
			HamletName:  h.Name,
			VillageID:   h.VillageID,
			VillageName: names[h.VillageID],
			SPPTTarget:  h.SPPTTarget,
			PBBTarget:   h.PBBTarget,
			SPPTPaid:    p.SPPT,
			PBBPaid:     zeroIfUnset(p.PBB),
		}
		row.AchievementPercentage = AchievementPercentage(row.PBBPaid, row.PBBTarget)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.VillageName != b.VillageName {
			return a.VillageName < b.VillageName
		}
		if a.HamletName != b.HamletName {
			return a.HamletName < b.HamletName
		}
		return a.HamletID < b.HamletID
	})
	return rows, nil
}

// zeroIfUnset normalises the zero value of decimal.Decimal, which is usable
// but compares oddly in tests, to decimal.Zero.
func zeroIfUnset(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	return d
}
