package protocol

// Reason codes attached to bans and failed spawns. They are for logs and
// diagnostics only and are never shown to players.
const (
	ErrCompile          = "E_COMPILE"
	ErrInstantiate      = "E_INSTANTIATE"
	ErrNameQuery        = "E_NAME_QUERY"
	ErrMissingExport    = "E_MISSING_EXPORT"
	ErrOutOfFuel        = "E_OUT_OF_FUEL"
	ErrTimeout          = "E_TIMEOUT"
	ErrTrap             = "E_TRAP"
	ErrBadBuffer        = "E_BAD_BUFFER"
	ErrBadPayload       = "E_BAD_PAYLOAD"
	ErrBufferTooSmall   = "E_BUFFER_TOO_SMALL"
	ErrInternal         = "E_INTERNAL"
	ErrGameplayRejected = "E_REJECTED"
)

var knownCodes = map[string]struct{}{
	ErrCompile:          {},
	ErrInstantiate:      {},
	ErrNameQuery:        {},
	ErrMissingExport:    {},
	ErrOutOfFuel:        {},
	ErrTimeout:          {},
	ErrTrap:             {},
	ErrBadBuffer:        {},
	ErrBadPayload:       {},
	ErrBufferTooSmall:   {},
	ErrInternal:         {},
	ErrGameplayRejected: {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
