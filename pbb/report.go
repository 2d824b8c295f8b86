package pbb

import (
	"context"
	"fmt"
)

// PaymentReport returns one row per payment matching filter, annotated with
// its village and hamlet names. AchievementPercentage is this single
// payment's amount against its hamlet's whole PBB target; it is not
// cumulative across the hamlet's other payments.
func PaymentReport(ctx context.Context, s Store, filter PaymentFilter) ([]ReportRow, error) {
	sources, err := s.ListReportSources(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list report sources: %w", err)
	}

	rows := make([]ReportRow, len(sources))
	for i, src := range sources {
		rows[i] = projectReportRow(src)
	}
	return rows, nil
}

func projectReportRow(src ReportSource) ReportRow {
	p := src.Payment
	return ReportRow{
		PaymentID:             p.ID,
		PaymentDate:           p.PaymentDate,
		VillageID:             p.VillageID,
		VillageName:           src.VillageName,
		HamletID:              p.HamletID,
		HamletName:            src.HamletName,
		PaymentAmount:         p.Amount,
		SPPTPaidCount:         p.SPPTPaidCount,
		PaymentType:           p.Type,
		AchievementPercentage: AchievementPercentage(p.Amount, src.PBBTarget),
	}
}

// PaymentList returns raw payments matching filter, newest payment date
// first with ties in id order.
func PaymentList(ctx context.Context, s Store, filter PaymentFilter) ([]Payment, error) {
	payments, err := s.ListPayments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}
