package models

import (
	"time"

	"github.com/handbok-org/handbok/pkg/types"
)

// Handbook is one association's published handbook, served on its own subdomain.
type Handbook struct {
	ID           string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Title        string     `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Subdomain    string     `gorm:"column:subdomain;type:varchar(63);not null;uniqueIndex" json:"subdomain"`
	OwnerID      *string    `gorm:"column:owner_id;type:uuid;index" json:"owner_id"`
	Published    bool       `gorm:"column:published;not null;default:false" json:"published"`
	IsTrial      bool       `gorm:"column:is_trial;not null;default:false" json:"is_trial"`
	TrialEndDate *time.Time `gorm:"column:trial_end_date" json:"trial_end_date"`
	ForumEnabled bool       `gorm:"column:forum_enabled;not null;default:false" json:"forum_enabled"`
	// Organization contact fields are scrubbed when the owner erases their account.
	OrganizationName    string    `gorm:"column:organization_name;type:varchar(255)" json:"organization_name"`
	OrganizationAddress string    `gorm:"column:organization_address;type:varchar(255)" json:"organization_address"`
	OrganizationPhone   string    `gorm:"column:organization_phone;type:varchar(64)" json:"organization_phone"`
	OrganizationEmail   string    `gorm:"column:organization_email;type:varchar(255)" json:"organization_email"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (Handbook) TableName() string { return "handbooks" }

func (h *Handbook) IsOwnedBy(userID string) bool {
	return h != nil && h.OwnerID != nil && userID != "" && *h.OwnerID == userID
}

// HandbookMember grants a user a role within a handbook.
type HandbookMember struct {
	ID         string           `gorm:"column:id;type:uuid;primary_key" json:"id"`
	HandbookID string           `gorm:"column:handbook_id;type:uuid;not null;uniqueIndex:idx_handbook_member" json:"handbook_id"`
	UserID     string           `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_handbook_member;index" json:"user_id"`
	Role       types.MemberRole `gorm:"column:role;type:varchar(32);not null" json:"role"`
	CreatedAt  time.Time        `json:"created_at"`
}

func (HandbookMember) TableName() string { return "handbook_members" }

type Section struct {
	ID         string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	HandbookID string    `gorm:"column:handbook_id;type:uuid;not null;index" json:"handbook_id"`
	Title      string    `gorm:"column:title;type:varchar(255);not null" json:"title"`
	OrderIndex int       `gorm:"column:order_index;not null;default:0" json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Section) TableName() string { return "sections" }

type Page struct {
	ID         string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SectionID  string    `gorm:"column:section_id;type:uuid;not null;index" json:"section_id"`
	Title      string    `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Content    string    `gorm:"column:content;type:text" json:"content"`
	OrderIndex int       `gorm:"column:order_index;not null;default:0" json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Page) TableName() string { return "pages" }
