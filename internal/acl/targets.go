package acl

import "github.com/nickerso/physiome-coko/internal/domain"

// IdentityTargets derives the subject target set for policy evaluation.
// Every subject is anonymous; an authenticated identity adds user, the
// administrator group adds administrator, and owner is added when the
// caller determined ownership against a concrete entity.
func IdentityTargets(identity *domain.Identity, owner bool) []Target {
	targets := []Target{TargetAnonymous}
	if identity != nil {
		targets = append(targets, TargetUser)
		if identity.IsAdministrator() {
			targets = append(targets, TargetAdministrator)
		}
	}
	if owner {
		targets = append(targets, TargetOwner)
	}
	return targets
}
