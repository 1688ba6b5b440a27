package domain

import "fmt"

// LockStatistics is a diagnostic snapshot for one lock key. It is never used
// for locking decisions.
type LockStatistics struct {
	Key               string `json:"key"`
	TotalAcquisitions int64  `json:"total_acquisitions"`
	TotalTimeouts     int64  `json:"total_timeouts"`
	Locked            bool   `json:"locked"`
	CurrentOwner      string `json:"current_owner,omitempty"`
}

func (s LockStatistics) String() string {
	return fmt.Sprintf("LockStatistics{key='%s', acquisitions=%d, timeouts=%d, locked=%t, owner='%s'}",
		s.Key, s.TotalAcquisitions, s.TotalTimeouts, s.Locked, s.CurrentOwner)
}
