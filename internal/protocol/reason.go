package protocol

// DisconnectReason explains why a session ended.
type DisconnectReason uint8

const (
	ReasonNone DisconnectReason = iota
	ReasonIsBanned
	ReasonIncompatibleProtocol
	ReasonSecurityError
	ReasonInvalidPassword
	ReasonServerIsFull
	ReasonAttemptFailed
	ReasonConnectionRecently
	ReasonConnectionLost
	ReasonConnectionClosed
	ReasonByUser
)

var reasonNames = [...]string{
	ReasonNone:                 "none",
	ReasonIsBanned:             "banned",
	ReasonIncompatibleProtocol: "incompatible protocol",
	ReasonSecurityError:        "security error",
	ReasonInvalidPassword:      "invalid password",
	ReasonServerIsFull:         "server is full",
	ReasonAttemptFailed:        "connection attempt failed",
	ReasonConnectionRecently:   "connected too recently",
	ReasonConnectionLost:       "connection lost",
	ReasonConnectionClosed:     "connection closed",
	ReasonByUser:               "closed by user",
}

func (r DisconnectReason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// ClientDisconnectReason maps a control identifier received by a client to
// the reason it ends the session with. The second result is false for
// identifiers that do not end a client session.
func ClientDisconnectReason(id MessageID) (DisconnectReason, bool) {
	switch id {
	case IDDisconnectionNotification:
		return ReasonConnectionClosed, true
	case IDConnectionLost:
		return ReasonConnectionLost, true
	case IDConnectionBanned:
		return ReasonIsBanned, true
	case IDIncompatibleProtocolVersion:
		return ReasonIncompatibleProtocol, true
	case IDInvalidPassword:
		return ReasonInvalidPassword, true
	case IDPublicKeyMismatch, IDRemoteSystemRequiresPublicKey, IDOurSystemRequiresSecurity:
		return ReasonSecurityError, true
	case IDConnectionAttemptFailed:
		return ReasonAttemptFailed, true
	case IDNoFreeIncomingConnections:
		return ReasonServerIsFull, true
	case IDIPRecentlyConnected:
		return ReasonConnectionRecently, true
	}
	return ReasonNone, false
}

// ServerDisconnectReason is the server-side counterpart of
// ClientDisconnectReason.
func ServerDisconnectReason(id MessageID) (DisconnectReason, bool) {
	switch id {
	case IDDisconnectionNotification:
		return ReasonConnectionClosed, true
	case IDConnectionLost:
		return ReasonConnectionLost, true
	}
	return ReasonNone, false
}
