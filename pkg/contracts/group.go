package contracts

// GroupState is the lifecycle state of a Working Group.
type GroupState string

const (
	GroupActive GroupState = "active"
	GroupIdle   GroupState = "idle"
	GroupPaused GroupState = "paused"
	GroupStopped GroupState = "stopped"
)

// Scope is a filesystem directory bound to a group as a working context.
type Scope struct {
	ScopeKey string `json:"scope_key"`
	Path     string `json:"path"`
}

// GroupCreate is the Data payload of a group.create event.
type GroupCreate struct {
	GroupID string `json:"group_id"`
	Title   string `json:"title"`
	Topic   string `json:"topic,omitempty"`
}

// GroupUpdate is the Data payload of a group.update event (title/topic edit).
type GroupUpdate struct {
	Title string `json:"title,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// GroupAttach is the Data payload of a group.attach event: binds a new scope.
type GroupAttach struct {
	Scope Scope `json:"scope"`
}

// GroupDetach is the Data payload of a group.detach event.
type GroupDetach struct {
	ScopeKey string `json:"scope_key"`
}

// GroupSetState is the Data payload of a group.set_state event.
type GroupSetState struct {
	State GroupState `json:"state"`
}

// Role is an actor's position within a group.
type Role string

const (
	RoleForeman Role = "foreman"
	RolePeer    Role = "peer"
)

// RunnerKind selects how the supervisor attaches to an actor's process.
type RunnerKind string

const (
	RunnerPTY      RunnerKind = "pty"
	RunnerHeadless RunnerKind = "headless"
)

// ActorProfile is a reusable template of runtime + command + env, referenced
// by actors created from it.
type ActorProfile struct {
	Name    string            `json:"name"`
	Runtime string            `json:"runtime"`
	Runner  RunnerKind        `json:"runner"`
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

// ActorAdd is the Data payload of an actor.add event.
type ActorAdd struct {
	ActorID string     `json:"actor_id"`
	Role    Role       `json:"role"`
	Runtime string     `json:"runtime"`
	Runner  RunnerKind `json:"runner"`
	Command []string   `json:"command"`
	Profile string     `json:"profile,omitempty"`
	Enabled bool       `json:"enabled"`
}

// ActorUpdate is the Data payload of an actor.update event.
type ActorUpdate struct {
	ActorID string   `json:"actor_id"`
	Command []string `json:"command,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

// ActorLifecycle is the Data payload shared by actor.start/stop/restart
// events.
type ActorLifecycle struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// ActorRemove is the Data payload of an actor.remove event.
type ActorRemove struct {
	ActorID string `json:"actor_id"`
}
