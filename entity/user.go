package entity

type Role string

const (
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleGate     Role = "gate"
	RoleAdmin    Role = "admin"
)

type User struct {
	ID   string
	Role Role
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanManage reports whether u may administer bookings of unit.
func (u User) CanManage(unit Unit) bool {
	if u.IsAdmin() {
		return true
	}
	return u.Role == RoleManager && u.ID != "" && unit.ManagerID == u.ID
}

func (u User) CanVerifyTickets() bool {
	switch u.Role {
	case RoleGate, RoleManager, RoleAdmin:
		return true
	}
	return false
}
