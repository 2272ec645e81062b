package plugin

// Info is a plugin's self-description. RunsOn gates loading by device; the
// wildcard "*" loads everywhere. Requires lists plugin names that must load
// first.
type Info struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	RunsOn      []string `json:"runs_on"`
	Requires    []string `json:"requires,omitempty"`
}

// Plugin is one build-time unit of optional daemon behaviour.
//
// OnLoad does one-time init and must not subscribe to channels or spawn
// workers; that happens in OnEnable. OnDisable undoes OnEnable; the host
// force-unsubscribes anything the plugin registered and joins its workers
// afterwards, so a lazy OnDisable is acceptable.
type Plugin interface {
	Info() Info
	OnLoad(h *Host) error
	OnEnable(h *Host) error
	OnDisable(h *Host) error
}

// Factory constructs a fresh plugin instance. Discovery instantiates one per
// factory to read metadata before deciding whether the plugin loads at all.
type Factory func() Plugin

// State is a plugin's lifecycle position.
type State string

const (
	StateDeclared State = "declared"
	StateLoaded   State = "loaded"
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
)
