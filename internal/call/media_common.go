package call

import (
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// DefaultSTUNServers is used when the session config does not list any.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

func iceConfiguration(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produce valid m-lines with ICE credentials
// even when no local media could be captured.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection, logger *zap.Logger) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logger.Warn("add video transceiver failed", zap.Error(err))
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logger.Warn("add audio transceiver failed", zap.Error(err))
	}
}
