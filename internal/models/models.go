package models

import (
	"fmt"
	"math"
	"time"
)

// Coordinate is an immutable WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects coordinates outside the valid lat/lng ranges, including NaN.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("lat %v outside [-90,90]", c.Lat)
	}
	if math.IsNaN(c.Lng) || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("lng %v outside [-180,180]", c.Lng)
	}
	return nil
}

// NurseLocation is the last accepted position report for a nurse.
// Records are owned by the location store and replaced wholesale on update.
type NurseLocation struct {
	NurseID   string     `json:"nurse_id"`
	Coord     Coordinate `json:"coord"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type RequestState string

const (
	StatePending   RequestState = "pending"
	StateAssigned  RequestState = "assigned"
	StateCompleted RequestState = "completed"
	StateCancelled RequestState = "cancelled"
)

// Terminal reports whether no transition leaves the state.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

func (s RequestState) Valid() bool {
	switch s {
	case StatePending, StateAssigned, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// ServiceRequest is a patient's visit request. Version is an
// optimistic-concurrency counter: it starts at 1 and increments on every
// accepted transition, so two writers racing on the same version cannot
// both win. AssignedNurseID is non-empty iff State is assigned or completed.
type ServiceRequest struct {
	ID              string       `json:"id"`
	PatientID       string       `json:"patient_id"`
	AssignedNurseID string       `json:"assigned_nurse_id,omitempty"`
	Origin          Coordinate   `json:"origin"`
	State           RequestState `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Version         int64        `json:"version"`
}

type Role string

const (
	RolePatient Role = "patient"
	RoleNurse   Role = "nurse"
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated entity behind a call, as resolved by the
// auth provider at the boundary.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}
