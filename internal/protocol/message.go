// Package protocol defines the packet type identifiers shared by every peer,
// the send priority and reliability enums, and the disconnect reasons that
// internal control packets map to.
package protocol

// MessageID is the first byte of every payload.
type MessageID = uint8

// Internal control identifiers. The set and numbering follow the RakNet 4
// message identifier table; everything below UserPacketEnum is reserved.
const (
	IDConnectedPing                   MessageID = 0  // engine keep-alive
	IDUnconnectedPing                 MessageID = 1  // query without a session
	IDUnconnectedPingOpenConnections  MessageID = 2  // query answered only with free slots
	IDConnectedPong                   MessageID = 3  // engine keep-alive reply
	IDDetectLostConnections           MessageID = 4  // engine liveness probe
	IDOpenConnectionRequest1          MessageID = 5  // handshake step
	IDOpenConnectionReply1            MessageID = 6  // handshake step
	IDOpenConnectionRequest2          MessageID = 7  // handshake step
	IDOpenConnectionReply2            MessageID = 8  // handshake step
	IDConnectionRequest               MessageID = 9  // handshake step
	IDRemoteSystemRequiresPublicKey   MessageID = 10 // security mismatch
	IDOurSystemRequiresSecurity       MessageID = 11 // security mismatch
	IDPublicKeyMismatch               MessageID = 12 // security mismatch
	IDOutOfBandInternal               MessageID = 13 // engine-private datagram
	IDSndReceiptAcked                 MessageID = 14 // receipt for *WithAck sends
	IDSndReceiptLoss                  MessageID = 15 // receipt for *WithAck sends
	IDConnectionRequestAccepted       MessageID = 16 // client: handshake finished
	IDConnectionAttemptFailed         MessageID = 17 // client: no answer from server
	IDAlreadyConnected                MessageID = 18 // client: duplicate session
	IDNewIncomingConnection           MessageID = 19 // server: peer joined
	IDNoFreeIncomingConnections       MessageID = 20 // client: server is full
	IDDisconnectionNotification       MessageID = 21 // graceful close by the remote side
	IDConnectionLost                  MessageID = 22 // remote side stopped answering
	IDConnectionBanned                MessageID = 23 // client: address is banned
	IDInvalidPassword                 MessageID = 24 // client: wrong password
	IDIncompatibleProtocolVersion     MessageID = 25 // client: version mismatch
	IDIPRecentlyConnected             MessageID = 26 // client: connection frequency limit hit
	IDTimestamp                       MessageID = 27 // timestamp prefix
	IDUnconnectedPong                 MessageID = 28 // query reply
	IDAdvertiseSystem                 MessageID = 29 // offline advertisement
	IDDownloadProgress                MessageID = 30 // large transfer progress
	IDRemoteDisconnectionNotification MessageID = 31 // relayed peer event
	IDRemoteConnectionLost            MessageID = 32 // relayed peer event
	IDRemoteNewIncomingConnection     MessageID = 33 // relayed peer event
)

// UserPacketEnum is the first identifier available to applications. Any
// payload whose first byte is at least this value is delivered to listeners
// untouched.
const UserPacketEnum MessageID = 134

// ProtocolVersion is exchanged during the handshake; peers with a different
// value are refused with IDIncompatibleProtocolVersion.
const ProtocolVersion uint8 = 1

// IsUser reports whether id belongs to the application range.
func IsUser(id MessageID) bool {
	return id >= UserPacketEnum
}

var names = map[MessageID]string{
	IDConnectedPing:                   "CONNECTED_PING",
	IDUnconnectedPing:                 "UNCONNECTED_PING",
	IDUnconnectedPingOpenConnections:  "UNCONNECTED_PING_OPEN_CONNECTIONS",
	IDConnectedPong:                   "CONNECTED_PONG",
	IDDetectLostConnections:           "DETECT_LOST_CONNECTIONS",
	IDOpenConnectionRequest1:          "OPEN_CONNECTION_REQUEST_1",
	IDOpenConnectionReply1:            "OPEN_CONNECTION_REPLY_1",
	IDOpenConnectionRequest2:          "OPEN_CONNECTION_REQUEST_2",
	IDOpenConnectionReply2:            "OPEN_CONNECTION_REPLY_2",
	IDConnectionRequest:               "CONNECTION_REQUEST",
	IDRemoteSystemRequiresPublicKey:   "REMOTE_SYSTEM_REQUIRES_PUBLIC_KEY",
	IDOurSystemRequiresSecurity:       "OUR_SYSTEM_REQUIRES_SECURITY",
	IDPublicKeyMismatch:               "PUBLIC_KEY_MISMATCH",
	IDOutOfBandInternal:               "OUT_OF_BAND_INTERNAL",
	IDSndReceiptAcked:                 "SND_RECEIPT_ACKED",
	IDSndReceiptLoss:                  "SND_RECEIPT_LOSS",
	IDConnectionRequestAccepted:       "CONNECTION_REQUEST_ACCEPTED",
	IDConnectionAttemptFailed:         "CONNECTION_ATTEMPT_FAILED",
	IDAlreadyConnected:                "ALREADY_CONNECTED",
	IDNewIncomingConnection:           "NEW_INCOMING_CONNECTION",
	IDNoFreeIncomingConnections:       "NO_FREE_INCOMING_CONNECTIONS",
	IDDisconnectionNotification:       "DISCONNECTION_NOTIFICATION",
	IDConnectionLost:                  "CONNECTION_LOST",
	IDConnectionBanned:                "CONNECTION_BANNED",
	IDInvalidPassword:                 "INVALID_PASSWORD",
	IDIncompatibleProtocolVersion:     "INCOMPATIBLE_PROTOCOL_VERSION",
	IDIPRecentlyConnected:             "IP_RECENTLY_CONNECTED",
	IDTimestamp:                       "TIMESTAMP",
	IDUnconnectedPong:                 "UNCONNECTED_PONG",
	IDAdvertiseSystem:                 "ADVERTISE_SYSTEM",
	IDDownloadProgress:                "DOWNLOAD_PROGRESS",
	IDRemoteDisconnectionNotification: "REMOTE_DISCONNECTION_NOTIFICATION",
	IDRemoteConnectionLost:            "REMOTE_CONNECTION_LOST",
	IDRemoteNewIncomingConnection:     "REMOTE_NEW_INCOMING_CONNECTION",
}

// Name returns a printable name for id, e.g. for debug logs.
func Name(id MessageID) string {
	if n, ok := names[id]; ok {
		return n
	}
	if IsUser(id) {
		return "USER"
	}
	return "RESERVED"
}
