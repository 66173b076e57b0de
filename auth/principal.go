package auth

import "github.com/google/uuid"

// Capability is a named action a principal may perform. Capabilities are
// an enumerable flat set so new ones can be added without touching a
// role hierarchy.
type Capability string

const (
	CapTransactionsRead  Capability = "transactions:read"
	CapTransactionsWrite Capability = "transactions:write"
	CapBudgetsRead       Capability = "budgets:read"
	CapBudgetsWrite      Capability = "budgets:write"
	CapDashboardRead     Capability = "dashboard:read"
	CapUsersManage       Capability = "users:manage"
)

var roleCapabilities = map[UserRole][]Capability{
	RoleMember: {
		CapTransactionsRead,
		CapTransactionsWrite,
		CapBudgetsRead,
		CapBudgetsWrite,
		CapDashboardRead,
	},
	RoleAdmin: {
		CapTransactionsRead,
		CapTransactionsWrite,
		CapBudgetsRead,
		CapBudgetsWrite,
		CapDashboardRead,
		CapUsersManage,
	},
}

// CapabilitiesForRole returns a copy of the capability set for a role.
// Unknown roles get nothing.
func CapabilitiesForRole(role UserRole) []Capability {
	caps, ok := roleCapabilities[role]
	if !ok {
		return nil
	}
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// Principal is the request scoped identity the filter establishes.
// A nil Principal means the request is anonymous.
type Principal struct {
	UserID       string       `json:"user_id"`
	Email        string       `json:"email"`
	SessionID    string       `json:"session_id,omitempty"`
	Role         UserRole     `json:"role"`
	Capabilities []Capability `json:"capabilities"`
}

// NewPrincipal builds a Principal from a user row and the session the
// presented token was issued under
func NewPrincipal(user *User, sessionID string) *Principal {
	if user == nil {
		return nil
	}

	return &Principal{
		UserID:       user.ID.String(),
		Email:        user.Email,
		SessionID:    sessionID,
		Role:         user.Role,
		Capabilities: CapabilitiesForRole(user.Role),
	}
}

// Can reports whether the principal holds a capability
func (p *Principal) Can(c Capability) bool {
	if p == nil {
		return false
	}
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// UserUUID parses the principal's user id
func (p *Principal) UserUUID() (uuid.UUID, error) {
	if p == nil {
		return uuid.Nil, ErrIdentityNotFound
	}
	return uuid.Parse(p.UserID)
}

// HasRole checks for an exact role match
func (p *Principal) HasRole(role UserRole) bool {
	return p != nil && p.Role == role
}

// IsAtLeast checks the principal's role against a minimum level
func (p *Principal) IsAtLeast(minRole UserRole) bool {
	return p != nil && p.Role.IsAtLeast(minRole)
}
