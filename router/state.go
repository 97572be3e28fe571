package router

// State is the handshake progress of a session. It only moves forward.
type State int32

const (
	AwaitingInitialize State = iota
	AwaitingInitialized
	Injected
	PassThrough
)

func (s State) String() string {
	switch s {
	case AwaitingInitialize:
		return "awaiting-initialize"
	case AwaitingInitialized:
		return "awaiting-initialized"
	case Injected:
		return "injected"
	case PassThrough:
		return "pass-through"
	default:
		return "unknown"
	}
}

// Direction names one of the two forwarding loops.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ClientToServer {
		return "client->server"
	}
	return "server->client"
}
