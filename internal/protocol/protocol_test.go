package protocol

import "testing"

// TestIsUserBoundary checks the control/user split at the threshold.
func TestIsUserBoundary(t *testing.T) {
	testCases := []struct {
		id   MessageID
		want bool
	}{
		{0, false},
		{IDConnectionRequestAccepted, false},
		{133, false},
		{134, true},
		{200, true},
		{255, true},
	}

	for _, tc := range testCases {
		if got := IsUser(tc.id); got != tc.want {
			t.Errorf("IsUser(%d): got %v, want %v", tc.id, got, tc.want)
		}
	}
}

// TestClientDisconnectReason verifies every terminating control identifier.
func TestClientDisconnectReason(t *testing.T) {
	testCases := []struct {
		id   MessageID
		want DisconnectReason
	}{
		{IDDisconnectionNotification, ReasonConnectionClosed},
		{IDConnectionLost, ReasonConnectionLost},
		{IDConnectionBanned, ReasonIsBanned},
		{IDIncompatibleProtocolVersion, ReasonIncompatibleProtocol},
		{IDInvalidPassword, ReasonInvalidPassword},
		{IDPublicKeyMismatch, ReasonSecurityError},
		{IDRemoteSystemRequiresPublicKey, ReasonSecurityError},
		{IDOurSystemRequiresSecurity, ReasonSecurityError},
		{IDConnectionAttemptFailed, ReasonAttemptFailed},
		{IDNoFreeIncomingConnections, ReasonServerIsFull},
		{IDIPRecentlyConnected, ReasonConnectionRecently},
	}

	for _, tc := range testCases {
		t.Run(Name(tc.id), func(t *testing.T) {
			got, ok := ClientDisconnectReason(tc.id)
			if !ok || got != tc.want {
				t.Errorf("got (%v, %v), want (%v, true)", got, ok, tc.want)
			}
		})
	}

	for _, id := range []MessageID{IDConnectionRequestAccepted, IDConnectedPing, IDNewIncomingConnection} {
		if _, ok := ClientDisconnectReason(id); ok {
			t.Errorf("%s should not end a client session", Name(id))
		}
	}
}

// TestServerDisconnectReason verifies the two server-side terminations.
func TestServerDisconnectReason(t *testing.T) {
	if r, ok := ServerDisconnectReason(IDDisconnectionNotification); !ok || r != ReasonConnectionClosed {
		t.Errorf("notification: got (%v, %v)", r, ok)
	}
	if r, ok := ServerDisconnectReason(IDConnectionLost); !ok || r != ReasonConnectionLost {
		t.Errorf("lost: got (%v, %v)", r, ok)
	}
	if _, ok := ServerDisconnectReason(IDConnectionBanned); ok {
		t.Error("banned is not a server-side disconnect")
	}
}

// TestReliabilityFlags spot-checks the reliability classification.
func TestReliabilityFlags(t *testing.T) {
	testCases := []struct {
		r                          Reliability
		reliable, ordered, receipt bool
	}{
		{Unreliable, false, false, false},
		{UnreliableSequenced, false, true, false},
		{Reliable, true, false, false},
		{ReliableOrdered, true, true, false},
		{ReliableSequenced, true, true, false},
		{UnreliableWithAck, false, false, true},
		{ReliableWithAck, true, false, true},
		{ReliableOrderedWithAck, true, true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.r.String(), func(t *testing.T) {
			if tc.r.IsReliable() != tc.reliable || tc.r.IsOrdered() != tc.ordered || tc.r.WantsReceipt() != tc.receipt {
				t.Errorf("flags mismatch: reliable=%v ordered=%v receipt=%v",
					tc.r.IsReliable(), tc.r.IsOrdered(), tc.r.WantsReceipt())
			}
		})
	}
}
