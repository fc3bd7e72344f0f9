package model

// Role задаёт роль аутентифицированного участника.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor описывает участника, выполняющего операцию. Для продавца ID совпадает с идентификатором ларька.
type Actor struct {
	ID            string
	Role          Role
	EmailVerified bool
}

// SystemActor используется фоновыми процессами.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
