package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoBadVersion  = "E_PROTO_BAD_VERSION"
	ErrProtoBadToken    = "E_PROTO_BAD_TOKEN"
	ErrProtoThrottled   = "E_PROTO_THROTTLED"
	ErrProtoUnsupported = "E_PROTO_UNSUPPORTED"

	// Command layer.
	CodeOK          = "OK"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrRateLimit    = "E_RATE_LIMIT"
	ErrCooldown     = "E_COOLDOWN"
	ErrNotFound     = "E_NOT_FOUND"
	ErrUsage        = "E_USAGE"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoBadVersion:  {},
	ErrProtoBadToken:    {},
	ErrProtoThrottled:   {},
	ErrProtoUnsupported: {},
	CodeOK:              {},
	ErrNoPermission:     {},
	ErrRateLimit:        {},
	ErrCooldown:         {},
	ErrNotFound:         {},
	ErrUsage:            {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
