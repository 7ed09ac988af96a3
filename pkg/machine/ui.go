package machine

import (
	"sync"

	"github.com/rs/zerolog"
)

// UI logs warnings for a machine and keeps them for later reporting.
type UI struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	warnings []string
}

// NewUI creates a UI that logs through logger.
func NewUI(logger zerolog.Logger) *UI {
	return &UI{logger: logger}
}

// Warn implements vmconfig.UI.
func (u *UI) Warn(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.warnings = append(u.warnings, message)
	u.logger.Warn().Msg(message)
}

// Warnings returns the warnings issued so far.
func (u *UI) Warnings() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.warnings...)
}
