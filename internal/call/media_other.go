//go:build !linux || !cgo

package call

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// newMediaPeerConnection creates a receive-only peer connection on
// non-Linux platforms. Camera/mic capture via pion/mediadevices needs
// platform drivers (V4L2/malgo) that are only wired up for Linux.
func newMediaPeerConnection(_ bool, stunServers []string, logger *zap.Logger) (*webrtc.PeerConnection, func(), error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(iceConfiguration(stunServers))
	if err != nil {
		return nil, nil, err
	}

	addRecvOnlyTransceivers(pc, logger)
	logger.Info("peer connection ready (receive-only, no local media on this platform)")
	return pc, nil, nil
}
