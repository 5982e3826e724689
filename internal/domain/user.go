package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the closed set of user roles in a consultation
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// ParseRole validates a role claim
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Caller is the authenticated identity behind a request
type Caller struct {
	UserID uuid.UUID
	Role   Role
}

// IsDoctor reports whether the caller acts as a doctor
func (c Caller) IsDoctor() bool {
	return c.Role == RoleDoctor
}

// IsPatient reports whether the caller acts as a patient
func (c Caller) IsPatient() bool {
	return c.Role == RolePatient
}

// DoctorAvailability is the self-declared readiness of a doctor to take calls
type DoctorAvailability struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	IsAvailable bool      `json:"is_available"`
}

// AvailableDoctors lists doctors currently flagged as available
type AvailableDoctors struct {
	Count     int64       `json:"count"`
	DoctorIDs []uuid.UUID `json:"doctor_ids"`
}
