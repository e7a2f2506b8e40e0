package types

type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleEditor MemberRole = "editor"
	MemberRoleViewer MemberRole = "viewer"
	MemberRoleMember MemberRole = "member"
)

// Rank orders roles for minimum-role checks. Unknown roles rank below viewer.
func (r MemberRole) Rank() int {
	switch r {
	case MemberRoleAdmin:
		return 3
	case MemberRoleEditor:
		return 2
	case MemberRoleViewer, MemberRoleMember:
		return 1
	default:
		return 0
	}
}

func (r MemberRole) Valid() bool { return r.Rank() > 0 }

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusNone      SubscriptionStatus = "none"
)

// Live reports whether the status still grants paid or trial service.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrial
}

type GDPRRequestType string

const (
	GDPRRequestTypeDeletion GDPRRequestType = "deletion"
	GDPRRequestTypeExport   GDPRRequestType = "export"
)

type GDPRRequestStatus string

const (
	GDPRRequestStatusPending    GDPRRequestStatus = "pending"
	GDPRRequestStatusInProgress GDPRRequestStatus = "in_progress"
	GDPRRequestStatusCompleted  GDPRRequestStatus = "completed"
	GDPRRequestStatusCancelled  GDPRRequestStatus = "cancelled"
	GDPRRequestStatusFailed     GDPRRequestStatus = "failed"
)

type DeletionType string

const (
	DeletionTypeFull    DeletionType = "full"
	DeletionTypePartial DeletionType = "partial"
)

type AccountDeletionStatus string

const (
	AccountDeletionStatusPending   AccountDeletionStatus = "pending"
	AccountDeletionStatusWarned75  AccountDeletionStatus = "warned_75"
	AccountDeletionStatusWarned85  AccountDeletionStatus = "warned_85"
	AccountDeletionStatusWarned89  AccountDeletionStatus = "warned_89"
	AccountDeletionStatusExecuted  AccountDeletionStatus = "executed"
	AccountDeletionStatusCancelled AccountDeletionStatus = "cancelled"
	AccountDeletionStatusFailed    AccountDeletionStatus = "failed"
)

type ExportStatus string

const (
	ExportStatusReady   ExportStatus = "ready"
	ExportStatusExpired ExportStatus = "expired"
)

type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

type DocumentImportStatus string

const (
	DocumentImportStatusUploaded      DocumentImportStatus = "uploaded"
	DocumentImportStatusTextExtracted DocumentImportStatus = "text_extracted"
	DocumentImportStatusNeedsOCR      DocumentImportStatus = "needs_ocr"
	DocumentImportStatusFailed        DocumentImportStatus = "failed"
)

// DocumentImportTerminal lists the statuses an extraction result has been
// written with.
var DocumentImportTerminal = []DocumentImportStatus{
	DocumentImportStatusTextExtracted,
	DocumentImportStatusNeedsOCR,
	DocumentImportStatusFailed,
}

func (s DocumentImportStatus) Terminal() bool {
	for _, t := range DocumentImportTerminal {
		if s == t {
			return true
		}
	}
	return false
}

type WebhookProvider string

const (
	WebhookProviderStripe WebhookProvider = "stripe"
)
