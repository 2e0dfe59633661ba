package auth

import "context"

type identityKey struct{}

// Identity is the school staff member behind a request.
type Identity struct {
	SchoolID string
	Role     Role
	Subject  string
}

// Actor names the identity in audit entries, falling back to the role when
// the token carried no subject.
func (i Identity) Actor() string {
	if i.Subject != "" {
		return i.Subject
	}
	return string(i.Role)
}

// WithIdentity binds a caller to the context. Billing reads the school from it,
// so every query of the request stays inside that school.
func WithIdentity(ctx context.Context, schoolID string, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{SchoolID: schoolID, Role: role, Subject: subject})
}

// IdentityFromContext returns the caller, if the request was authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// SchoolIDFromContext returns the caller's school, or "" for anonymous requests.
func SchoolIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.SchoolID
}
