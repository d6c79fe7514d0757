// Package role defines the closed set of role tags carried on users,
// notification audiences and tokens.
package role

import "strings"

// Role is a tag in a user's role set.
type Role string

const (
	User   Role = "user"
	Admin  Role = "admin"
	Seller Role = "seller"
	Agent  Role = "agent"

	PendingSeller Role = "pending_seller"
	PendingAgent  Role = "pending_agent"
)

var known = map[Role]struct{}{
	User:          {},
	Admin:         {},
	Seller:        {},
	Agent:         {},
	PendingSeller: {},
	PendingAgent:  {},
}

// Valid reports whether r is one of the known tags.
func (r Role) Valid() bool {
	_, ok := known[r]
	return ok
}

// requestable maps the keyword a user submits when asking for a role to the
// pending tag recorded while an admin decides.
var requestable = map[string]Role{
	"seller": PendingSeller,
	"agent":  PendingAgent,
}

// grantable maps the keyword an admin submits when deciding a role request to
// the granted tag.
var grantable = map[string]Role{
	"seller": Seller,
	"agent":  Agent,
	"admin":  Admin,
}

// pendingFor pairs each grantable role with its pending tag, if it has one.
var pendingFor = map[Role]Role{
	Seller: PendingSeller,
	Agent:  PendingAgent,
}

// PendingTag resolves a role-request keyword. The second return value is the
// role the request would eventually grant.
func PendingTag(keyword string) (pending Role, target Role, ok bool) {
	key := strings.ToLower(strings.TrimSpace(keyword))
	pending, ok = requestable[key]
	if !ok {
		return "", "", false
	}
	return pending, grantable[key], true
}

// Grantable resolves an upgrade keyword to the role it grants and the pending
// tag that should be cleared alongside it (empty when there is none).
func Grantable(keyword string) (target Role, pending Role, ok bool) {
	target, ok = grantable[strings.ToLower(strings.TrimSpace(keyword))]
	if !ok {
		return "", "", false
	}
	return target, pendingFor[target], true
}

// Parse validates a raw tag.
func Parse(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// Set is an ordered role list with set semantics on mutation.
type Set []Role

// Has reports membership.
func (s Set) Has(r Role) bool {
	for _, v := range s {
		if v == r {
			return true
		}
	}
	return false
}

// Add returns s with r appended unless already present.
func (s Set) Add(r Role) Set {
	if s.Has(r) {
		return s
	}
	return append(append(Set{}, s...), r)
}

// Remove returns s without any of rs. The base User tag is never removed.
func (s Set) Remove(rs ...Role) Set {
	out := make(Set, 0, len(s))
	for _, v := range s {
		drop := false
		for _, r := range rs {
			if v == r && v != User {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, v)
		}
	}
	return out
}

// Intersects reports whether s and other share at least one tag.
func (s Set) Intersects(other Set) bool {
	for _, v := range s {
		if other.Has(v) {
			return true
		}
	}
	return false
}

// Validate returns the first unknown tag in s.
func (s Set) Validate() (Role, bool) {
	for _, v := range s {
		if !v.Valid() {
			return v, false
		}
	}
	return "", true
}

// Strings is used when binding to text[] columns.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

// FromStrings converts a text[] column back into a Set.
func FromStrings(raw []string) Set {
	out := make(Set, len(raw))
	for i, v := range raw {
		out[i] = Role(v)
	}
	return out
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Roles  Set
}

// IsAdmin reports whether the caller holds the Admin role.
func (a Actor) IsAdmin() bool {
	return a.Roles.Has(Admin)
}
