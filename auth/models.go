package auth

type Role string

const (
	// RoleConsumer acts on their own items only.
	RoleConsumer Role = "consumer"
	// RoleOperator may act for any owner and run maintenance endpoints.
	RoleOperator Role = "operator"
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID string
	Role   Role
}

// CanActFor reports whether the caller may read or change ownerID's data.
func (i Identity) CanActFor(ownerID string) bool {
	return i.Role == RoleOperator || (i.UserID != "" && i.UserID == ownerID)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleConsumer, RoleOperator:
		return true
	default:
		return false
	}
}
