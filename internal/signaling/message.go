// Package signaling runs the WebSocket side of a WebRTC session: the
// admission handshake, the SDP/ICE exchange that brings a transport.Link
// up, and the HTTP query endpoint servers answer without a session.
package signaling

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeHello     MessageType = "hello"  // client asks to join
	MsgTypeAccept    MessageType = "accept" // server admits the client
	MsgTypeReject    MessageType = "reject" // server refuses the client
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
)

// Message is the JSON structure exchanged over the WebSocket.
type Message struct {
	Type MessageType `json:"type"`

	// hello / accept
	GUID     uint64 `json:"guid,omitempty"`
	Password string `json:"password,omitempty"`
	Version  uint8  `json:"version,omitempty"`
	Secure   bool   `json:"secure,omitempty"`

	// reject: the control identifier the client should report
	Reason uint8 `json:"reason,omitempty"`

	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
