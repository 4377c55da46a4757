package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// senderSlot remembers the original local track for a sender so toggles can
// restore it after a ReplaceTrack(nil).
type senderSlot struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// Session is one active call with a single remote peer. It wraps the peer
// connection and the captured local media; signaling stays in the Manager.
type Session struct {
	peerID     string
	video      bool
	pc         *webrtc.PeerConnection
	closeMedia func()
	logger     *zap.Logger

	mu        sync.Mutex
	senders   map[webrtc.RTPCodecType]*senderSlot
	muted     bool
	cameraOff bool
	ended     bool
}

func newSession(peerID string, video bool, pc *webrtc.PeerConnection, closeMedia func(), logger *zap.Logger) *Session {
	s := &Session{
		peerID:     peerID,
		video:      video,
		pc:         pc,
		closeMedia: closeMedia,
		logger:     logger,
		senders:    make(map[webrtc.RTPCodecType]*senderSlot),
	}
	for _, sender := range pc.GetSenders() {
		track := sender.Track()
		if track == nil {
			continue
		}
		s.senders[track.Kind()] = &senderSlot{sender: sender, track: track}
	}
	return s
}

// PeerID returns the remote peer's user id.
func (s *Session) PeerID() string { return s.peerID }

// Video reports whether the call was started with video.
func (s *Session) Video() bool { return s.video }

// CreateOffer produces the local offer and installs it as the local
// description. ICE candidates trickle afterwards via OnICECandidate.
func (s *Session) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return &offer, nil
}

// HandleRemoteOffer installs the remote offer and produces the answer.
func (s *Session) HandleRemoteOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return &answer, nil
}

// HandleRemoteAnswer installs the answer to our offer.
func (s *Session) HandleRemoteAnswer(answer webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// AddCandidate adds one trickled remote ICE candidate.
func (s *Session) AddCandidate(c webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(c)
}

// ToggleMute flips the outgoing audio track without renegotiation. Returns
// the new muted state.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = !s.muted
	s.toggleTrack(webrtc.RTPCodecTypeAudio, s.muted)
	return s.muted
}

// ToggleCamera flips the outgoing video track without renegotiation.
// Returns the new camera-off state.
func (s *Session) ToggleCamera() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameraOff = !s.cameraOff
	s.toggleTrack(webrtc.RTPCodecTypeVideo, s.cameraOff)
	return s.cameraOff
}

// Muted reports whether outgoing audio is disabled.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// CameraOff reports whether outgoing video is disabled.
func (s *Session) CameraOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraOff
}

// toggleTrack swaps the sender's track against nil and back. Callers hold mu.
func (s *Session) toggleTrack(kind webrtc.RTPCodecType, off bool) {
	slot, ok := s.senders[kind]
	if !ok {
		return
	}
	var track webrtc.TrackLocal
	if !off {
		track = slot.track
	}
	if err := slot.sender.ReplaceTrack(track); err != nil {
		s.logger.Warn("track toggle failed", zap.Stringer("kind", kind), zap.Error(err))
	}
}

// End closes the peer connection and releases captured media. Idempotent.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	if err := s.pc.Close(); err != nil {
		s.logger.Warn("peer connection close failed", zap.Error(err))
	}
	if s.closeMedia != nil {
		s.closeMedia()
	}
	s.logger.Info("call session ended", zap.String("peer_id", s.peerID))
}
