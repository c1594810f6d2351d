package auth

import "time"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleClinician Role = "clinician"
	RoleReadOnly  Role = "read_only"
)

// Account is a staff login. EmployeeID links it to the roster and to incident history.
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	EmployeeID   string    `json:"employee_id"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
