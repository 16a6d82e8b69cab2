package entity

// Disposition values for Bill.Status and Bill.SiteStatus
const (
	StatusAccept = "accept"
	StatusReject = "reject"
	StatusHold   = "hold"
	StatusIssue  = "issue"
)

// Nature of work values
const (
	NatureMaterial = "Material"
	NatureService  = "Service"
	NatureWorks    = "Works"
)

// Audit action recorded when a bill is created
const AuditActionCreate = "create"

// ValidStatus reports whether s is a known disposition
func ValidStatus(s string) bool {
	switch s {
	case StatusAccept, StatusReject, StatusHold, StatusIssue:
		return true
	default:
		return false
	}
}

// ValidNatureOfWork reports whether n is a known nature of work
func ValidNatureOfWork(n string) bool {
	switch n {
	case NatureMaterial, NatureService, NatureWorks:
		return true
	default:
		return false
	}
}
