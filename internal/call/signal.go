package call

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Signaler is the slice of the realtime channel the call package uses to
// exchange SDP and ICE with the remote peer.
type Signaler interface {
	On(event string, fn func(data json.RawMessage))
	Off(event string)
	Emit(event string, payload any) error
}

// ContactChecker reports whether a user id belongs to the roster. Offers
// from peers that fail this check are never answered.
type ContactChecker func(userID string) bool

// callRequest rings the remote peer before any SDP is exchanged.
type callRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Video bool   `json:"video"`
}

// sdpSignal carries an offer or answer.
type sdpSignal struct {
	From string                    `json:"from"`
	To   string                    `json:"to"`
	SDP  webrtc.SessionDescription `json:"sdp"`
}

// candidateSignal carries one trickled ICE candidate.
type candidateSignal struct {
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// hangupSignal tears the call down from either side.
type hangupSignal struct {
	From string `json:"from"`
	To   string `json:"to"`
}
