package protocol

// ACTOR (host -> server): an actor came online, changed name or went offline.
type ActorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         uint64 `json:"actor_id"`
	Name            string `json:"name"`
	Online          bool   `json:"online"`
}

// PERM (host -> server)
type PermMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         uint64 `json:"actor_id"`
	Perm            string `json:"perm"`
	Granted         bool   `json:"granted"`
}

type SlotState struct {
	Item     string `json:"item"`
	Amount   int    `json:"amount"`
	Capacity int    `json:"capacity"`
}

// SPAWN (host -> server)
type SpawnMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Handle          uint64         `json:"handle"`
	Kind            string         `json:"kind"`
	Owner           uint64         `json:"owner"`
	Category        string         `json:"category"`
	MaxSlots        int            `json:"max_slots,omitempty"`
	StackCaps       map[string]int `json:"stack_caps,omitempty"`
	Slots           []SlotState    `json:"slots"`
}

// DESTROY (host -> server)
type DestroyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Handle          uint64 `json:"handle"`
}

// ITEMS (host -> server): authoritative slot contents after a host-side change.
type ItemsMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Handle          uint64      `json:"handle"`
	Slots           []SlotState `json:"slots"`
}

// WIPE (host -> server)
type WipeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// CMD (host -> server): a chat or console command. Console commands run as a
// privileged caller.
type CmdMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	ActorID         uint64   `json:"actor_id,omitempty"`
	Console         bool     `json:"console,omitempty"`
	Args            []string `json:"args"`
}

// FILL (server -> host): the new slot contents of a refilled object.
type FillMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Handle          uint64      `json:"handle"`
	Slots           []SlotState `json:"slots"`
}

type PrefEntry struct {
	ActorID uint64 `json:"actor_id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Default bool   `json:"default,omitempty"`
}

// RESULT (server -> host): the terminal reply to a CMD.
type ResultMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ReqID           string      `json:"req_id"`
	ActorID         uint64      `json:"actor_id,omitempty"`
	Code            string      `json:"code"`
	Message         string      `json:"message"`
	Enabled         *bool       `json:"enabled,omitempty"`
	Prefs           []PrefEntry `json:"prefs,omitempty"`
	RetryAfterMs    int64       `json:"retry_after_ms,omitempty"`
}
