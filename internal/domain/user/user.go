package user

import "time"

// Roles a RuralEdu account can hold.
const (
	RoleLearner = "LEARNER"
	RoleTeacher = "TEACHER"
	RoleParent  = "PARENT"
	RoleAdmin   = "ADMIN"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never expose hash in JSON
	FullName     string     `json:"fullName,omitempty"`
	Role         string     `json:"role"`
	DateOfBirth  *time.Time `json:"dateOfBirth,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func ValidRole(role string) bool {
	switch role {
	case RoleLearner, RoleTeacher, RoleParent, RoleAdmin:
		return true
	}
	return false
}
