package domain

import "time"

// AdminStatus is the chat-reported role of an administrator.
type AdminStatus string

// Administrator roles.
const (
	AdminStatusOwner         AdminStatus = "owner"
	AdminStatusAdministrator AdminStatus = "administrator"
)

// Administrator is one entry of the admin cache, refreshed periodically
// from the chat platform and unioned with the configured bootstrap list.
type Administrator struct {
	UserID     ChatUserID
	Username   string
	FirstName  string
	LastName   string
	Status     AdminStatus
	DetectedAt time.Time
}
