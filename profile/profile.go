// Package profile stores the application level user profile that lives next
// to the identity provider's account, in the `users` document collection.
//
// The profile holds the editable details shown in the app (display name,
// contact details, avatar, custom chat instructions) as well as role and
// moderation state, which only administrators change.
package profile

import (
	"time"
)

// RoleAdmin is the role value that, together with IsAdmin, grants admin
// privileges.
const RoleAdmin = "admin"

// Profile is the content of users/{uid}.
type Profile struct {
	// UID is the document id, it is not stored in the document itself.
	UID string `json:"-"`

	DisplayName        string `json:"displayName"`
	Email              string `json:"email"`
	Phone              string `json:"phone"`
	Address            string `json:"address"`
	Avatar             string `json:"avatar"`
	AvatarPath         string `json:"avatarPath,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`

	Role       string     `json:"role,omitempty"`
	IsAdmin    bool       `json:"isAdmin,omitempty"`
	AdminSince *time.Time `json:"adminSince,omitempty"`

	IsBanned           bool       `json:"isBanned,omitempty"`
	BannedAt           *time.Time `json:"bannedAt,omitempty"`
	BanReason          string     `json:"banReason,omitempty"`
	ChatRestricted     bool       `json:"chatRestricted,omitempty"`
	RequiresModeration bool       `json:"requiresModeration,omitempty"`
	RestrictionReason  string     `json:"restrictionReason,omitempty"`

	IsMonitored    bool       `json:"isMonitored,omitempty"`
	MonitoredSince *time.Time `json:"monitoredSince,omitempty"`
	MonitoredBy    string     `json:"monitoredBy,omitempty"`

	UpdatedBy string     `json:"updatedBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// HasAdminRole reports whether the profile grants admin privileges. Both the
// flag and the role must agree.
func (p *Profile) HasAdminRole() bool {
	return p != nil && p.IsAdmin && p.Role == RoleAdmin
}

// Default returns the profile created for a user signing in for the first
// time.
func Default(uid, displayName, email string, now time.Time) Profile {
	return Profile{
		UID:         uid,
		DisplayName: displayName,
		Email:       email,
		CreatedAt:   now.UTC(),
	}
}

// Field names a profile attribute a user may edit about themselves.
type Field string

const (
	FieldName               Field = "name"
	FieldEmail              Field = "email"
	FieldPassword           Field = "password"
	FieldPhone              Field = "phone"
	FieldAddress            Field = "address"
	FieldAvatar             Field = "avatar"
	FieldCustomInstructions Field = "customInstructions"
)

var documentKeys = map[Field]string{
	FieldName:               "displayName",
	FieldEmail:              "email",
	FieldPhone:              "phone",
	FieldAddress:            "address",
	FieldAvatar:             "avatar",
	FieldCustomInstructions: "customInstructions",
}

// IsEditable reports whether users may change the field themselves.
func (f Field) IsEditable() bool {
	if f == FieldPassword {
		return true
	}
	_, ok := documentKeys[f]
	return ok
}

// DocumentKey returns the key the field is stored under. The password is not
// stored in the profile.
func (f Field) DocumentKey() (string, bool) {
	k, ok := documentKeys[f]
	return k, ok
}
