package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Lifecycle.
	ErrNotReady = "E_NOT_READY"

	// Event handling.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRejected   = "E_REJECTED"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrNotReady:        {},
	ErrBadRequest:      {},
	ErrRejected:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
