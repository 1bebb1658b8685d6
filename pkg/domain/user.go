package domain

import "time"

// User is the chat subscriber record. Users exist before verification
// (no CPF yet); at most one active user per CPF.
type User struct {
	ID               ChatUserID
	Username         string
	CPF              CPF
	ClientName       string
	ServiceName      string
	ServiceStatus    string
	IsActive         bool
	CreatedAt        time.Time
	LastVerification *time.Time
}

// HasVerifiedCPF reports whether the user passed identity verification.
func (u *User) HasVerifiedCPF() bool {
	return u != nil && u.IsActive && u.CPF != ""
}

// BindCPF attaches the verified CPF and subscriber snapshot.
func (u *User) BindCPF(cpf CPF, client *ClientData) {
	u.CPF = cpf
	if client != nil {
		u.ClientName = client.Name
		u.ServiceName = client.ServiceName
		u.ServiceStatus = client.ServiceStatus
	}
	t := time.Now()
	u.LastVerification = &t
}

// Deactivate revokes the account (remapping loser, cancelled upstream
// contract). The CPF binding stays for history; uniqueness applies to
// active users only.
func (u *User) Deactivate() {
	u.IsActive = false
}
