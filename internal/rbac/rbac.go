package rbac

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionManage  Action = "manage"
	ActionDestroy Action = "destroy"
)

var rank = map[Role]int{
	RoleNone:   0,
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// AtLeast reports whether role sits at or above min in the workspace lattice.
func AtLeast(role, min Role) bool {
	return rank[role] >= rank[min]
}

func Can(role Role, action Action) bool {
	switch action {
	case ActionRead:
		return AtLeast(role, RoleViewer)
	case ActionWrite:
		return AtLeast(role, RoleMember)
	case ActionManage:
		return AtLeast(role, RoleAdmin)
	case ActionDestroy:
		return role == RoleOwner
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Valid reports whether role names one of the four workspace roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin, RoleOwner:
		return true
	default:
		return false
	}
}
