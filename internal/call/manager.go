// Package call coordinates peer-to-peer audio/video calls using Pion.
// Signaling travels over the shared realtime channel; media flows directly
// between the peers. At most one call is active at a time.
package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatty/internal/bus"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// ErrBusy is returned when a call is started while another is in progress.
var ErrBusy = errors.New("call: another call is in progress")

// ErrNotBound is returned when no signaling channel is attached.
var ErrNotBound = errors.New("call: no signaling channel")

// peerConnFactory builds the peer connection and captures local media.
// The cleanup func releases captured tracks and may be nil.
type peerConnFactory func(video bool, stunServers []string, logger *zap.Logger) (*webrtc.PeerConnection, func(), error)

// IncomingCall is the bus payload for a ringing call.
type IncomingCall struct {
	From  string
	Video bool
}

// Manager owns the single active call session and bridges realtime
// signaling to it.
type Manager struct {
	selfID      func() string
	contacts    ContactChecker
	machine     *Machine
	bus         *bus.Bus
	logger      *zap.Logger
	stunServers []string
	newPeerConn peerConnFactory

	mu           sync.Mutex
	sig          Signaler
	sess         *Session
	pendingFrom  string
	pendingVideo bool
	pendingOffer *webrtc.SessionDescription
}

// NewManager creates the call coordinator. selfID is read per call so the
// manager survives logout/login cycles.
func NewManager(selfID func() string, contacts ContactChecker, stunServers []string, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		selfID:      selfID,
		contacts:    contacts,
		machine:     NewMachine(b),
		bus:         b,
		logger:      logger,
		stunServers: stunServers,
		newPeerConn: newMediaPeerConnection,
	}
}

// State returns the current call state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Session returns the active session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Bind attaches the signaling channel and registers the inbound handlers.
// Call Unbind before binding a new channel.
func (m *Manager) Bind(sig Signaler) {
	m.mu.Lock()
	m.sig = sig
	m.mu.Unlock()

	sig.On("incoming-call", m.handleIncomingCall)
	sig.On("offer", m.handleOffer)
	sig.On("answer", m.handleAnswer)
	sig.On("ice-candidate", m.handleCandidate)
	sig.On("call-hangup", m.handleRemoteHangup)
}

// Unbind detaches the signaling channel and ends any active call.
func (m *Manager) Unbind() {
	m.mu.Lock()
	sig := m.sig
	m.sig = nil
	m.mu.Unlock()

	if sig != nil {
		for _, ev := range []string{"incoming-call", "offer", "answer", "ice-candidate", "call-hangup"} {
			sig.Off(ev)
		}
	}
	m.teardown()
}

// StartCall rings peerID and opens the outbound leg: capture media, send
// the ringing notification, then the offer. Media failure returns the
// machine to Idle.
func (m *Manager) StartCall(peerID string, video bool) error {
	m.mu.Lock()
	sig := m.sig
	busy := m.sess != nil
	m.mu.Unlock()

	if sig == nil {
		return ErrNotBound
	}
	if busy {
		return ErrBusy
	}
	if err := m.machine.Transition(RequestingMedia); err != nil {
		return ErrBusy
	}

	sess, err := m.openSession(peerID, video)
	if err != nil {
		_ = m.machine.Transition(Idle)
		m.logger.Error("media capture failed", zap.Error(err))
		return err
	}

	if err := m.machine.Transition(Negotiating); err != nil {
		sess.End()
		return err
	}

	self := m.selfID()
	if err := sig.Emit("call-user", callRequest{From: self, To: peerID, Video: video}); err != nil {
		m.logger.Warn("call-user emit failed", zap.Error(err))
	}

	offer, err := sess.CreateOffer()
	if err != nil {
		m.abortCall(peerID)
		return err
	}
	if err := sig.Emit("offer", sdpSignal{From: self, To: peerID, SDP: *offer}); err != nil {
		m.abortCall(peerID)
		return fmt.Errorf("send offer: %w", err)
	}

	m.logger.Info("call started", zap.String("peer_id", peerID), zap.Bool("video", video))
	return nil
}

// Accept answers the pending incoming call: capture media, notify the
// caller, and answer the stashed offer if it already arrived.
func (m *Manager) Accept() error {
	m.mu.Lock()
	sig := m.sig
	from := m.pendingFrom
	video := m.pendingVideo
	offer := m.pendingOffer
	m.mu.Unlock()

	if sig == nil {
		return ErrNotBound
	}
	if from == "" {
		return errors.New("call: no pending call to accept")
	}
	if err := m.machine.Transition(RequestingMedia); err != nil {
		return ErrBusy
	}

	sess, err := m.openSession(from, video)
	if err != nil {
		_ = m.machine.Transition(Idle)
		m.clearPending()
		m.logger.Error("media capture failed", zap.Error(err))
		return err
	}

	if err := m.machine.Transition(Negotiating); err != nil {
		sess.End()
		return err
	}

	self := m.selfID()
	if err := sig.Emit("accept-call", callRequest{From: self, To: from, Video: video}); err != nil {
		m.logger.Warn("accept-call emit failed", zap.Error(err))
	}

	if offer != nil {
		if err := m.answerOffer(sess, sig, from, *offer); err != nil {
			m.abortCall(from)
			return err
		}
	}

	m.mu.Lock()
	m.pendingFrom = ""
	m.pendingVideo = false
	m.pendingOffer = nil
	m.mu.Unlock()
	return nil
}

// Reject declines the pending incoming call without capturing media.
func (m *Manager) Reject() {
	m.mu.Lock()
	sig := m.sig
	from := m.pendingFrom
	m.mu.Unlock()

	if from == "" {
		return
	}
	if sig != nil {
		_ = sig.Emit("call-hangup", hangupSignal{From: m.selfID(), To: from})
	}
	m.clearPending()
}

// HangUp ends the active call and notifies the remote peer.
func (m *Manager) HangUp() {
	m.mu.Lock()
	sig := m.sig
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		return
	}
	if sig != nil {
		_ = sig.Emit("call-hangup", hangupSignal{From: m.selfID(), To: sess.PeerID()})
	}
	m.teardown()
}

// ToggleMute flips the outgoing audio track of the active call.
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return false
	}
	return sess.ToggleMute()
}

// ToggleCamera flips the outgoing video track of the active call.
func (m *Manager) ToggleCamera() bool {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return false
	}
	return sess.ToggleCamera()
}

// openSession builds the peer connection, wires its callbacks and installs
// the session as the single active one.
func (m *Manager) openSession(peerID string, video bool) (*Session, error) {
	pc, closeMedia, err := m.newPeerConn(video, m.stunServers, m.logger)
	if err != nil {
		return nil, err
	}
	sess := newSession(peerID, video, pc, closeMedia, m.logger)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.mu.Lock()
		sig := m.sig
		m.mu.Unlock()
		if sig == nil {
			return
		}
		if err := sig.Emit("ice-candidate", candidateSignal{From: m.selfID(), To: peerID, Candidate: c.ToJSON()}); err != nil {
			m.logger.Warn("candidate emit failed", zap.Error(err))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.logger.Info("remote track", zap.String("kind", track.Kind().String()))
		m.publish("call.remote_track", track.Kind().String())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Info("peer connection state", zap.Stringer("state", state))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if m.machine.Current() == Negotiating {
				_ = m.machine.Transition(Active)
			}
		case webrtc.PeerConnectionStateFailed:
			m.teardown()
		}
	})

	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()
	return sess, nil
}

// handleIncomingCall records the ringing call and surfaces it to the UI.
// Callers outside the roster are dropped.
func (m *Manager) handleIncomingCall(data json.RawMessage) {
	var req callRequest
	if err := json.Unmarshal(data, &req); err != nil {
		m.logger.Warn("bad incoming-call payload", zap.Error(err))
		return
	}
	if m.contacts != nil && !m.contacts(req.From) {
		m.logger.Warn("incoming call from unknown peer dropped", zap.String("from", req.From))
		return
	}

	m.mu.Lock()
	busy := m.sess != nil
	if !busy {
		m.pendingFrom = req.From
		m.pendingVideo = req.Video
		m.pendingOffer = nil
	}
	m.mu.Unlock()

	if busy {
		m.logger.Info("incoming call while busy, ignoring", zap.String("from", req.From))
		return
	}
	m.publish("call.incoming", IncomingCall{From: req.From, Video: req.Video})
}

// handleOffer answers an offer from the current call peer, or stashes it
// when the user has not accepted the ring yet. Offers from peers outside
// the roster are never answered.
func (m *Manager) handleOffer(data json.RawMessage) {
	var sig sdpSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("bad offer payload", zap.Error(err))
		return
	}
	if m.contacts != nil && !m.contacts(sig.From) {
		m.logger.Warn("offer from unknown peer dropped", zap.String("from", sig.From))
		return
	}

	m.mu.Lock()
	sess := m.sess
	channel := m.sig
	pendingFrom := m.pendingFrom
	m.mu.Unlock()

	if sess != nil && sess.PeerID() == sig.From {
		if err := m.answerOffer(sess, channel, sig.From, sig.SDP); err != nil {
			m.logger.Warn("answer failed", zap.Error(err))
		}
		return
	}

	// Ringing but not accepted yet: keep the offer for Accept.
	if pendingFrom == sig.From {
		m.mu.Lock()
		m.pendingOffer = &sig.SDP
		m.mu.Unlock()
		return
	}

	m.logger.Warn("offer without matching call dropped", zap.String("from", sig.From))
}

func (m *Manager) answerOffer(sess *Session, sig Signaler, peerID string, offer webrtc.SessionDescription) error {
	answer, err := sess.HandleRemoteOffer(offer)
	if err != nil {
		return err
	}
	if sig == nil {
		return ErrNotBound
	}
	return sig.Emit("answer", sdpSignal{From: m.selfID(), To: peerID, SDP: *answer})
}

func (m *Manager) handleAnswer(data json.RawMessage) {
	var sig sdpSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("bad answer payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil || sess.PeerID() != sig.From {
		m.logger.Warn("answer without matching call dropped", zap.String("from", sig.From))
		return
	}
	if err := sess.HandleRemoteAnswer(sig.SDP); err != nil {
		m.logger.Warn("remote answer rejected", zap.Error(err))
	}
}

func (m *Manager) handleCandidate(data json.RawMessage) {
	var sig candidateSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("bad candidate payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil || sess.PeerID() != sig.From {
		return
	}
	if err := sess.AddCandidate(sig.Candidate); err != nil {
		m.logger.Warn("candidate rejected", zap.Error(err))
	}
}

// handleRemoteHangup ends the session when the remote peer hangs up, and
// clears a pending ring when the caller gives up before Accept.
func (m *Manager) handleRemoteHangup(data json.RawMessage) {
	var sig hangupSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("bad hangup payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	sess := m.sess
	pendingFrom := m.pendingFrom
	m.mu.Unlock()

	if sess != nil && sess.PeerID() == sig.From {
		m.logger.Info("remote hangup", zap.String("from", sig.From))
		m.teardown()
		return
	}
	if pendingFrom == sig.From {
		m.clearPending()
		m.publish("call.incoming_cancelled", sig.From)
	}
}

// abortCall ends a half-open call after a negotiation or signaling failure.
func (m *Manager) abortCall(peerID string) {
	m.mu.Lock()
	sig := m.sig
	m.mu.Unlock()
	if sig != nil {
		_ = sig.Emit("call-hangup", hangupSignal{From: m.selfID(), To: peerID})
	}
	m.teardown()
}

// teardown releases the active session and resets the machine to Idle.
func (m *Manager) teardown() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.pendingFrom = ""
	m.pendingVideo = false
	m.pendingOffer = nil
	m.mu.Unlock()

	if sess == nil {
		return
	}
	sess.End()
	if m.machine.Current() != Idle {
		_ = m.machine.Transition(Ended)
		_ = m.machine.Transition(Idle)
	}
}

func (m *Manager) clearPending() {
	m.mu.Lock()
	m.pendingFrom = ""
	m.pendingVideo = false
	m.pendingOffer = nil
	m.mu.Unlock()
}

func (m *Manager) publish(kind string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
