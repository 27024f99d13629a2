package shared

// Staff roles recognised by the application. Roles are opaque strings in
// the users table; the fixed sets below are the only authorisation source.
const (
	RoleAdmin      = "ADMIN"
	RoleComptable  = "COMPTABLE"
	RoleMagasinier = "MAGASINIER"
	RoleLivreur    = "LIVREUR"
	RoleClient     = "CLIENT"
)

// Identity describes the authenticated actor attached to a request.
type Identity struct {
	ID    int64
	Role  string
	Name  string
	Email string
}

// HasRole reports whether the identity carries one of the given roles.
func (i Identity) HasRole(roles ...string) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// CanManageOrders reports whether the role may progress an order through
// the fulfilment pipeline.
func CanManageOrders(i Identity) bool {
	return i.HasRole(RoleAdmin, RoleComptable, RoleMagasinier)
}

// CanManagePayments reports whether the role may record or edit payments.
func CanManagePayments(i Identity) bool {
	return i.HasRole(RoleAdmin, RoleComptable)
}

// IsAdmin reports whether the identity is an administrator.
func IsAdmin(i Identity) bool {
	return i.Role == RoleAdmin
}
