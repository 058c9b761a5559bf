package models

import (
	"time"

	"gorm.io/gorm"
)

// UserType represents the type of user
type UserType string

const (
	UserTypeAdmin  UserType = "Admin"
	UserTypeMember UserType = "Member"
)

// User represents a user in the system
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	FirebaseUID string   `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	Name        string   `gorm:"type:varchar(255)" json:"name"`
	Email       string   `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	UserType    UserType `gorm:"type:varchar(20);default:'Member'" json:"user_type"`

	// ProExpiredAt is the subscription ledger entry. Only the notification
	// applier writes it.
	ProExpiredAt *time.Time `json:"-"`

	Orders []Order `gorm:"foreignKey:UserID" json:"orders,omitempty"`
}

// IsPro reports whether the user holds an active subscription at now.
func (u User) IsPro(now time.Time) bool {
	return u.ProExpiredAt != nil && u.ProExpiredAt.After(now)
}

// IsAdmin reports whether the user may access admin routes
func (u User) IsAdmin() bool {
	return u.UserType == UserTypeAdmin
}

// Profile is the account view returned to the owner. The expiry is hidden
// once the subscription has lapsed.
type Profile struct {
	ID           uint       `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	UserType     UserType   `json:"user_type"`
	Pro          bool       `json:"pro"`
	ProExpiredAt *time.Time `json:"pro_expired_at,omitempty"`
}

// ToProfile builds the owner-facing profile at now
func (u User) ToProfile(now time.Time) Profile {
	p := Profile{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		UserType: u.UserType,
		Pro:      u.IsPro(now),
	}
	if p.Pro {
		p.ProExpiredAt = u.ProExpiredAt
	}
	return p
}
