package health

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alekspetrov/nova/internal/config"
)

// Status represents feature or dependency status
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Check represents a health check result
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Fix     string `json:"fix,omitempty"`
}

// FeatureStatus represents a feature with its availability
type FeatureStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Status  Status `json:"status"`
	Note    string `json:"note,omitempty"`
}

// Report contains all health check results
type Report struct {
	Dependencies []Check         `json:"dependencies"`
	Features     []FeatureStatus `json:"features"`
}

// RunChecks performs all health checks based on config
func RunChecks(cfg *config.Config) *Report {
	return &Report{
		Dependencies: checkDependencies(cfg),
		Features:     checkFeatures(cfg),
	}
}

// OK reports whether no dependency check failed.
func (r *Report) OK() bool {
	for _, c := range r.Dependencies {
		if c.Status == StatusError {
			return false
		}
	}
	return true
}

// Enabled returns the names of enabled features; names with a note get a
// trailing "*".
func (r *Report) Enabled() []string {
	var out []string
	for _, f := range r.Features {
		if !f.Enabled {
			continue
		}
		name := f.Name
		if f.Note != "" {
			name += "*"
		}
		out = append(out, name)
	}
	return out
}

// checkDependencies checks what the bot needs before it can connect
func checkDependencies(cfg *config.Config) []Check {
	checks := []Check{}

	if cfg.Discord != nil && cfg.Discord.Token != "" {
		checks = append(checks, Check{Name: "token", Status: StatusOK, Message: "configured"})
	} else {
		checks = append(checks, Check{
			Name:    "token",
			Status:  StatusError,
			Message: "not set",
			Fix:     "export " + config.EnvDiscordToken + "=...",
		})
	}

	if cfg.Database != nil {
		checks = append(checks, checkDatabaseDir(cfg.Database.Path))
	}

	if cfg.Lavalink != nil && cfg.Lavalink.Password == "youshallnotpass" {
		checks = append(checks, Check{
			Name:    "lavalink",
			Status:  StatusWarning,
			Message: "default password",
			Fix:     "export " + config.EnvLavalinkPassword + "=...",
		})
	} else if cfg.Lavalink != nil {
		checks = append(checks, Check{Name: "lavalink", Status: StatusOK, Message: cfg.Lavalink.Host})
	}

	return checks
}

func checkDatabaseDir(path string) Check {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return Check{Name: "database", Status: StatusWarning, Message: dir + " will be created"}
	case err != nil:
		return Check{Name: "database", Status: StatusError, Message: err.Error()}
	case !info.IsDir():
		return Check{Name: "database", Status: StatusError, Message: dir + " is not a directory", Fix: "set database.path"}
	}
	return Check{Name: "database", Status: StatusOK, Message: path}
}

// checkFeatures checks feature availability
func checkFeatures(cfg *config.Config) []FeatureStatus {
	features := []FeatureStatus{}

	spam := cfg.SpamFilter != nil && cfg.SpamFilter.Enabled
	spamNote := ""
	if spam && !cfg.TaskEnabled(config.TaskSpamFilterSweep) {
		spamNote = "no sweep task"
	}
	features = append(features, FeatureStatus{
		Name:    "Spam filter",
		Enabled: spam,
		Status:  noteStatus(spam, spamNote),
		Note:    spamNote,
	})

	status := cfg.TaskEnabled(config.TaskStatusLoop)
	statusNote := ""
	if status && cfg.Debug {
		statusNote = "maintenance"
	}
	features = append(features, FeatureStatus{
		Name:    "Status",
		Enabled: status,
		Status:  noteStatus(status, statusNote),
		Note:    statusNote,
	})

	dbSync := cfg.TaskEnabled(config.TaskDatabaseSync)
	features = append(features, FeatureStatus{
		Name:    "DB sync",
		Enabled: dbSync,
		Status:  boolToStatus(dbSync),
	})

	web := cfg.Web != nil && cfg.Web.Enabled
	features = append(features, FeatureStatus{
		Name:    "Web",
		Enabled: web,
		Status:  boolToStatus(web),
	})

	limited := cfg.Discord != nil && cfg.Discord.MemberLimit > 0
	limitNote := ""
	if limited {
		limitNote = "partial listings"
	}
	features = append(features, FeatureStatus{
		Name:    "Member limit",
		Enabled: limited,
		Status:  noteStatus(limited, limitNote),
		Note:    limitNote,
	})

	return features
}

func noteStatus(enabled bool, note string) Status {
	if enabled && note != "" {
		return StatusWarning
	}
	return boolToStatus(enabled)
}

// boolToStatus converts bool to Status
func boolToStatus(enabled bool) Status {
	if enabled {
		return StatusOK
	}
	return StatusDisabled
}

// Symbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for _, c := range []Status{StatusOK, StatusWarning, StatusError, StatusDisabled} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}
