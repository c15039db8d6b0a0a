package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAnnouncementNotFound   = errors.New("announcement not found")
	ErrInvalidAnnouncementReq = errors.New("invalid announcement input")
	ErrForbidden              = errors.New("operation not permitted")
	ErrInvalidUserID          = errors.New("invalid user id")
)

const (
	RoleSuperAdmin = "super-admin"
	RoleAdmin      = "admin"
	RoleExecutive  = "executive"
)

// PublisherRoles may create, edit, publish and delete announcements.
var PublisherRoles = []string{RoleSuperAdmin, RoleAdmin, RoleExecutive}

// Operator is the authenticated caller of a write operation.
type Operator struct {
	UserID    string
	Role      string
	IPAddress string
}

func (o Operator) CanPublish() bool {
	for _, role := range PublisherRoles {
		if strings.EqualFold(strings.TrimSpace(o.Role), role) {
			return true
		}
	}
	return false
}

// invalidRequest marks err as a client input problem while keeping the
// underlying validation error reachable through errors.Is and errors.As.
func invalidRequest(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidAnnouncementReq, err)
}
