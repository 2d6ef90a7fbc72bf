package focus

import (
	"time"

	"github.com/vthunder/clr/internal/types"
)

const (
	DefaultDurationMinutes = 25
	MaxDurationMinutes     = 240
)

// State is the focus mode snapshot. When Active is false the timing fields
// are meaningless and zeroed.
type State struct {
	Active           bool    `json:"active"`
	StartTS          float64 `json:"start_ts,omitempty"`
	DurationMinutes  float64 `json:"duration_minutes,omitempty"`
	BlockTabs        bool    `json:"block_tabs"`
	Reason           string  `json:"reason,omitempty"`
	SetBy            string  `json:"set_by,omitempty"` // "user", "policy", "mcp"
	ElapsedMinutes   float64 `json:"elapsed_minutes,omitempty"`
	RemainingMinutes float64 `json:"remaining_minutes,omitempty"`
}

// ExpiresAt is when an active session ends
func (s State) ExpiresAt() time.Time {
	if !s.Active {
		return time.Time{}
	}
	return types.FromUnix(s.StartTS + s.DurationMinutes*60)
}

// IsExpired returns true if the session should have ended by now
func (s State) IsExpired(now time.Time) bool {
	if !s.Active {
		return false
	}
	return (types.Unix(now)-s.StartTS)/60 >= s.DurationMinutes
}
