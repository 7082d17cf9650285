package transport

// ConnState is the lifecycle state of a device connection.
type ConnState int

const (
	// StateAccepted is a connection whose device id is not yet known.
	StateAccepted ConnState = iota

	// StateRegistered is a connection whose device announced its id.
	StateRegistered

	// StateClosed is a connection that has been cleaned up.
	StateClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateAccepted:
		return "ACCEPTED"
	case StateRegistered:
		return "REGISTERED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
