package sessions

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/internal/troubleshoot"
)

// Validator compares a session's stored state and stats snapshot against the
// state implied by its items. It reports drift, it never corrects it.
type Validator struct {
	repo  *Repository
	items itemCounter
}

func NewValidator(repository *Repository, items itemCounter) (*Validator, error) {
	if repository == nil {
		return nil, fmt.Errorf("sessions validator: repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("sessions validator: item counter is required")
	}
	return &Validator{repo: repository, items: items}, nil
}

// CheckSession returns one finding per mismatched field, empty when the
// session is consistent.
func (v *Validator) CheckSession(ctx context.Context, sessionID uuid.UUID) ([]troubleshoot.Inconsistency, error) {
	session, err := v.repo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	raw, err := v.items.CountByStatus(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	counts := countsFromMap(raw)

	var findings []troubleshoot.Inconsistency

	expected := statemachine.ExpectedSessionStatus(session.Status, counts)
	if expected != session.Status {
		findings = append(findings, troubleshoot.Inconsistency{
			Field:    "status",
			Expected: expected.String(),
			Actual:   session.Status.String(),
		})
	}

	for _, check := range []struct {
		field    string
		expected int
		actual   int
	}{
		{"item_count", counts.Total(), session.ItemCount},
		{"imported_count", counts.Imported, session.ImportedCount},
		{"duplicate_count", counts.Duplicate, session.DuplicateCount},
		{"failed_count", counts.Failed, session.FailedCount},
		{"processing_count", counts.Pending + counts.Enqueued + counts.Running, session.ProcessingCount},
	} {
		if check.expected != check.actual {
			findings = append(findings, troubleshoot.Inconsistency{
				Field:    check.field,
				Expected: fmt.Sprintf("%d", check.expected),
				Actual:   fmt.Sprintf("%d", check.actual),
			})
		}
	}

	return findings, nil
}
