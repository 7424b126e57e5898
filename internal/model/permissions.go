package model

// Permission names a single capability that a role grants. Permissions
// are deliberately a closed, static table rather than a runtime lookup
// into configuration: the mapping below is the whole policy.
type Permission string

const (
    PermBookingsRead   Permission = "bookings:read"
    PermBookingsWrite  Permission = "bookings:write"
    PermMedicalRead    Permission = "medical:read"
    PermMedicalWrite   Permission = "medical:write"
    PermAccountsManage Permission = "accounts:manage"
)

// rolePermissions maps each role to the permissions it grants. Every
// Role constant must appear here; GrantsPermission treats an unknown
// role as granting nothing.
var rolePermissions = map[Role][]Permission{
    RoleCustomer: {PermBookingsRead, PermBookingsWrite},
    RoleStaff:    {PermBookingsRead, PermBookingsWrite, PermMedicalRead, PermMedicalWrite},
    RoleAdmin:    {PermBookingsRead, PermBookingsWrite, PermMedicalRead, PermMedicalWrite, PermAccountsManage},
}

// GrantsPermission reports whether the role grants the permission.
func GrantsPermission(r Role, p Permission) bool {
    for _, granted := range rolePermissions[r] {
        if granted == p {
            return true
        }
    }
    return false
}
