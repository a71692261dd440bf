package troubleshoot

import (
	apperrors "github.com/photark/photark-backend/pkg/errors"
)

// Advice pairs the operator guidance for one error category with its
// severity tier.
type Advice struct {
	Severity           apperrors.Severity
	RecommendedActions []string
}

// adviceByCategory is the fixed mapping from error taxonomy to guidance. The
// wording is surfaced verbatim to operators; keep it actionable.
var adviceByCategory = map[apperrors.Category]Advice{
	apperrors.CategoryNotFound: {
		Severity: apperrors.SeverityWarning,
		RecommendedActions: []string{
			"verify the source item still exists at the origin",
			"re-run the session expansion to refresh stale item references",
		},
	},
	apperrors.CategoryPermission: {
		Severity: apperrors.SeverityCritical,
		RecommendedActions: []string{
			"re-authorize the picker session and obtain a fresh access token",
			"check filesystem permissions on the local import root",
		},
	},
	apperrors.CategoryStorage: {
		Severity: apperrors.SeverityCritical,
		RecommendedActions: []string{
			"check free disk space on the media volume",
			"inspect storage mount health before retrying the session",
		},
	},
	apperrors.CategoryValidation: {
		Severity: apperrors.SeverityWarning,
		RecommendedActions: []string{
			"inspect the source file's metadata for corruption",
			"skip the item if the source cannot produce valid metadata",
		},
	},
	apperrors.CategoryIntegrity: {
		Severity: apperrors.SeverityInfo,
		RecommendedActions: []string{
			"confirm the catalog entry the conflict points at is the same media",
			"no action needed if the item was classified duplicate",
		},
	},
	apperrors.CategoryConnectivity: {
		Severity: apperrors.SeverityWarning,
		RecommendedActions: []string{
			"check network connectivity to the remote picker",
			"retry the session once the remote service is reachable",
		},
	},
	apperrors.CategoryInternal: {
		Severity: apperrors.SeverityCritical,
		RecommendedActions: []string{
			"collect worker logs around the failure timestamp",
			"file a bug with the session id and the audit trail excerpt",
		},
	},
}

// AdviseCategory returns the guidance for a category; unknown categories get
// the internal-error guidance.
func AdviseCategory(category apperrors.Category) Advice {
	if advice, ok := adviceByCategory[category]; ok {
		return advice
	}
	return adviceByCategory[apperrors.CategoryInternal]
}

// Advise resolves an error to its guidance via the error taxonomy.
func Advise(err error) Advice {
	return AdviseCategory(apperrors.CategoryOf(err))
}

var severityRank = map[apperrors.Severity]int{
	apperrors.SeverityInfo:     0,
	apperrors.SeverityWarning:  1,
	apperrors.SeverityCritical: 2,
}

func maxSeverity(a, b apperrors.Severity) apperrors.Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}
