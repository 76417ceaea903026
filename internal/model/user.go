package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of account types the platform knows about.
type Role string

const (
	RoleApplicant Role = "applicant"
	RoleEmployer  Role = "employer"
)

func ParseRole(val string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(val))) {
	case RoleApplicant:
		return RoleApplicant, nil
	case RoleEmployer:
		return RoleEmployer, nil
	default:
		return "", fmt.Errorf("unknown role %q", val)
	}
}

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
}
