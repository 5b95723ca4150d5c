package domain

type UserID string

type UserRole string

const (
	// RoleConductor may register tracks and start or stop playback.
	RoleConductor UserRole = "conductor"
	RoleMusician  UserRole = "musician"
)
