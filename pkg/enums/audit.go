package enums

// AuditLevel grades the severity of an audit trail entry.
type AuditLevel string

const (
	AuditLevelDebug AuditLevel = "debug"
	AuditLevelInfo  AuditLevel = "info"
	AuditLevelWarn  AuditLevel = "warn"
	AuditLevelError AuditLevel = "error"
)

// String returns the literal string for the level.
func (l AuditLevel) String() string {
	return string(l)
}

// AuditCategory groups audit entries by pipeline stage.
type AuditCategory string

const (
	AuditCategoryTransition  AuditCategory = "transition"
	AuditCategoryClaim       AuditCategory = "claim"
	AuditCategoryDedup       AuditCategory = "dedup"
	AuditCategoryFetch       AuditCategory = "fetch"
	AuditCategoryRecovery    AuditCategory = "recovery"
	AuditCategoryConsistency AuditCategory = "consistency"
	AuditCategoryError       AuditCategory = "error"
)

// String returns the literal string for the category.
func (c AuditCategory) String() string {
	return string(c)
}
