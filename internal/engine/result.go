package engine

// ConnectResult is the outcome of Client.Connect.
type ConnectResult uint8

const (
	ClientPointerIsNull ConnectResult = iota
	ClientInitError
	CannotResolveDomainName
	Connecting
	AlreadyConnected
	AlreadyConnecting
)

func (r ConnectResult) String() string {
	switch r {
	case ClientPointerIsNull:
		return "no client engine"
	case ClientInitError:
		return "client engine failed to initialize"
	case CannotResolveDomainName:
		return "cannot resolve address"
	case Connecting:
		return "connecting"
	case AlreadyConnected:
		return "already connected"
	case AlreadyConnecting:
		return "already connecting"
	}
	return "unknown"
}

// StartResult is the outcome of Server.Start.
type StartResult uint8

const (
	ServerPointerIsNull StartResult = iota
	ServerInitError
	SecurityInitError
	Started
	IsAlreadyStarted
	PortIsAlreadyUse
	BindingError
)

func (r StartResult) String() string {
	switch r {
	case ServerPointerIsNull:
		return "no server engine"
	case ServerInitError:
		return "server engine failed to initialize"
	case SecurityInitError:
		return "security failed to initialize"
	case Started:
		return "started"
	case IsAlreadyStarted:
		return "already started"
	case PortIsAlreadyUse:
		return "port is already in use"
	case BindingError:
		return "cannot bind address"
	}
	return "unknown"
}
