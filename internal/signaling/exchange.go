package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rakpeer/internal/transport"
	"github.com/1ureka/rakpeer/internal/util"
)

var log = util.NewLogger("signaling")

const hangupGrace = 5 * time.Second

// trickle forwards local ICE candidates over conn.
func trickle(conn *Conn, link *transport.Link) {
	link.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		if err := conn.Send(Message{Type: MsgTypeCandidate, Candidate: string(data)}); err != nil {
			select {
			case <-link.Ready():
			default:
				log.Debug("candidate send failed: %v", err)
			}
		}
	})
}

func addCandidate(link *transport.Link, raw string) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		log.Debug("bad candidate: %v", err)
		return
	}
	if err := link.AddICECandidate(init); err != nil {
		log.Debug("AddICECandidate failed: %v", err)
	}
}

// Offer runs the server side of the exchange: send an offer, apply the
// answer and candidates, and block until the link's channels are open.
func Offer(ctx context.Context, conn *Conn, link *transport.Link) error {
	trickle(conn, link)

	offer, err := link.CreateOffer()
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := link.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	if err := conn.Send(Message{Type: MsgTypeOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	return await(ctx, conn, link, func(msg Message) error {
		if msg.Type != MsgTypeAnswer {
			return nil
		}
		return link.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  msg.SDP,
		})
	})
}

// Answer runs the client side: wait for the offer, reply with an answer,
// exchange candidates, and block until the link's channels are open.
func Answer(ctx context.Context, conn *Conn, link *transport.Link) error {
	trickle(conn, link)

	return await(ctx, conn, link, func(msg Message) error {
		if msg.Type != MsgTypeOffer {
			return nil
		}
		if err := link.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  msg.SDP,
		}); err != nil {
			return fmt.Errorf("SetRemoteDescription: %w", err)
		}
		answer, err := link.CreateAnswer()
		if err != nil {
			return fmt.Errorf("CreateAnswer: %w", err)
		}
		if err := link.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("SetLocalDescription: %w", err)
		}
		return conn.Send(Message{Type: MsgTypeAnswer, SDP: answer.SDP})
	})
}

// await reads conn until the link is ready. Candidates are applied here;
// every other message goes to onMessage, whose error aborts the exchange.
func await(ctx context.Context, conn *Conn, link *transport.Link, onMessage func(Message) error) error {
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Receive()
			if err != nil {
				errCh <- err
				return
			}
			if msg.Type == MsgTypeCandidate {
				addCandidate(link, msg.Candidate)
				continue
			}
			if err := onMessage(msg); err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case <-link.Ready():
		return nil
	case <-link.Done():
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		// The other side hangs up as soon as its own channels open, which
		// may be slightly before ours do.
		select {
		case <-link.Ready():
			return nil
		case <-link.Done():
			return transport.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(hangupGrace):
			return fmt.Errorf("signaling read: %w", err)
		}
	}
}
