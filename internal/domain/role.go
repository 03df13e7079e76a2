package domain

// Role names carried in session tokens. Auditors may read the audit trail
// and resolve alerts; admins additionally manage sessions for other users.
const (
	RoleAdmin   = "admin"
	RoleAuditor = "auditor"
	RoleUser    = "user"
)
