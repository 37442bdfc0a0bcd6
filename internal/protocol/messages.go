package protocol

// HELLO (host -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	HostName        string     `json:"host_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> host)
type WelcomeMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	Settings        WelcomeSettings `json:"settings"`
}

type WelcomeSettings struct {
	TickIntervalMs int    `json:"tick_interval_ms"`
	FillItemKind   string `json:"fill_item_kind"`
	MaxFillPerTick int    `json:"max_fill_per_tick"`
}

// ERROR (server -> host)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	Ref             string `json:"ref,omitempty"`
}

func NewError(code, message, ref string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message, Ref: ref}
}
