package domain

import "github.com/google/uuid"

// Group names carried by an identity.
const (
	GroupAdministrator = "administrator"
)

// Identity is the authenticated subject of a request.
type Identity struct {
	ID            uuid.UUID
	Email         string
	EmailVerified bool
	DisplayName   string
	Groups        []string
}

// IsAdministrator reports whether the identity carries the administrator group.
func (i *Identity) IsAdministrator() bool {
	if i == nil {
		return false
	}
	for _, g := range i.Groups {
		if g == GroupAdministrator {
			return true
		}
	}
	return false
}
