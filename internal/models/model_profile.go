package models

import "time"

// Profile mirrors the auth identity with application fields. ID equals the auth user id.
type Profile struct {
	ID           string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Email        string    `gorm:"column:email;type:varchar(255);index" json:"email"`
	FullName     string    `gorm:"column:full_name;type:varchar(255)" json:"full_name"`
	IsSuperadmin bool      `gorm:"column:is_superadmin;not null;default:false" json:"is_superadmin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

type UserConsent struct {
	ID          string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID      string     `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	ConsentType string     `gorm:"column:consent_type;type:varchar(64);not null" json:"consent_type"`
	Granted     bool       `gorm:"column:granted;not null" json:"granted"`
	GrantedAt   *time.Time `gorm:"column:granted_at" json:"granted_at"`
	WithdrawnAt *time.Time `gorm:"column:withdrawn_at" json:"withdrawn_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (UserConsent) TableName() string { return "user_consents" }
