package http

import (
	"time"

	"academy-lock/internal/domain"
)

// AcquireRequest is the DTO for POST /locks/{key}/acquire. Omitted fields use
// the manager's default policy.
type AcquireRequest struct {
	Lease      string `json:"lease" validate:"omitempty,duration"`
	MaxRetries *int   `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=20"`
	MaxWait    string `json:"max_wait" validate:"omitempty,duration"`
}

// ReleaseRequest is the DTO for POST /locks/{key}/release.
type ReleaseRequest struct {
	Token string `json:"token" validate:"required,uuid"`
}

// ExtendRequest is the DTO for POST /locks/{key}/extend.
type ExtendRequest struct {
	Token      string `json:"token" validate:"required,uuid"`
	Additional string `json:"additional" validate:"required,duration"`
}

// LeaseResponse describes a lease held through the API.
type LeaseResponse struct {
	Key            string    `json:"key"`
	Token          string    `json:"token"`
	AcquiredAt     time.Time `json:"acquired_at"`
	LastExtendedAt time.Time `json:"last_extended_at"`
	Lease          string    `json:"lease"`
}

func NewLeaseResponse(l *domain.Lease) LeaseResponse {
	return LeaseResponse{
		Key:            l.Key,
		Token:          l.OwnerToken,
		AcquiredAt:     l.AcquiredAt,
		LastExtendedAt: l.LastExtendedAt(),
		Lease:          l.LeaseDuration.String(),
	}
}

// ResultResponse answers release and extend calls.
type ResultResponse struct {
	Key string `json:"key"`
	OK  bool   `json:"ok"`
}

type OwnerResponse struct {
	Key    string `json:"key"`
	Owner  string `json:"owner,omitempty"`
	Locked bool   `json:"locked"`
}

type HealthResponse struct {
	Summary     string `json:"summary"`
	ActiveLocks int64  `json:"active_locks"`
	Store       string `json:"store"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}
