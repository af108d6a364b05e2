package usecase

import (
	"fmt"
	"time"

	"github.com/user/bizscraper/internal/entity"
)

// BuildReport summarises the records of a run.
func BuildReport(runID string, records []entity.BusinessRecord, lastStage entity.Stage, duration time.Duration) *entity.RunReport {
	report := &entity.RunReport{
		RunID:           runID,
		TotalBusinesses: len(records),
		UnresolvedNames: []string{},
		LastStage:       lastStage,
		Duration:        duration,
		GeneratedAt:     time.Now().UTC(),
	}
	for _, r := range records {
		if r.Website != "" {
			report.WithWebsite++
		}
		if len(r.Contacts.Emails) > 0 || len(r.Contacts.Phones) > 0 {
			report.WithContacts++
		}
		report.EmailsCollected += len(r.Contacts.Emails)
		report.PhonesCollected += len(r.Contacts.Phones)

		switch r.Status {
		case entity.StatusResolved:
			report.Resolved++
		case entity.StatusUnresolved:
			report.Unresolved++
			report.UnresolvedNames = append(report.UnresolvedNames, r.Name)
		default:
			report.Pending++
		}
	}
	report.SuccessRate = "0%"
	if report.TotalBusinesses > 0 {
		report.SuccessRate = fmt.Sprintf("%.1f%%", float64(report.WithContacts)/float64(report.TotalBusinesses)*100)
	}
	return report
}
