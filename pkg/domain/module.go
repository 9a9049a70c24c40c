package domain

// ModuleStatus represents the lifecycle status of a module
type ModuleStatus string

const (
	ModuleStatusUninitialized ModuleStatus = "UNINITIALIZED"
	ModuleStatusStarting      ModuleStatus = "STARTING"
	ModuleStatusStarted       ModuleStatus = "STARTED"
	ModuleStatusError         ModuleStatus = "ERROR"
	ModuleStatusStopping      ModuleStatus = "STOPPING"
	ModuleStatusStopped       ModuleStatus = "STOPPED"
	ModuleStatusDisabled      ModuleStatus = "DISABLED"
)

// Valid reports whether s is one of the known statuses
func (s ModuleStatus) Valid() bool {
	switch s {
	case ModuleStatusUninitialized, ModuleStatusStarting, ModuleStatusStarted,
		ModuleStatusError, ModuleStatusStopping, ModuleStatusStopped, ModuleStatusDisabled:
		return true
	}
	return false
}

// ModuleInfo is a read-only view of a registered module
type ModuleInfo struct {
	Name         string       `json:"name"`
	Status       ModuleStatus `json:"status"`
	Dependencies []string     `json:"dependencies"`
	Operations   []string     `json:"operations"`
}
