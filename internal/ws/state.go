package ws

// State describes the connection lifecycle. Closed is terminal and only
// reached through a local Close; Failed is terminal and only reached when
// the reconnect budget runs out.
type State string

const (
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Terminal reports whether the manager will make no further dial attempts.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
