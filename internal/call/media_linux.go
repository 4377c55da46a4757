//go:build linux && cgo

package call

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// newMediaPeerConnection creates the peer connection with VP8+Opus codecs
// and attempts to capture local camera/mic via pion/mediadevices (V4L2 +
// malgo). video selects whether the camera is wanted at all; a busy or
// missing device degrades the call instead of failing it. The returned
// cleanup func releases captured tracks and may be nil.
func newMediaPeerConnection(video bool, stunServers []string, logger *zap.Logger) (*webrtc.PeerConnection, func(), error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// The default disconnectedTimeout of 5s is too short for NAT paths that
	// have brief outages during re-keying. Give ICE time to recover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(iceConfiguration(stunServers))
	if err != nil {
		return nil, nil, err
	}

	// GetUserMedia fails as a unit if either track can't be opened. Try the
	// requested combination first, then degrade so a busy microphone doesn't
	// prevent the camera from working and vice versa.
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{
		{false, true, "audio-only"},
	}
	if video {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG: some cameras expose an MJPEG V4L2 node with
				// malformed JPEG frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn("media capture attempt failed", zap.String("attempt", a.label), zap.Error(err))
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					logger.Warn("local track ended", zap.Error(err))
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				logger.Warn("add track failed", zap.Error(err))
			}
		}

		logger.Info("local media captured", zap.String("attempt", a.label), zap.Int("tracks", len(tracks)))
		closeFn := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, closeFn, nil
	}

	// All attempts failed. Proceed receive-only so the call can still
	// receive remote media without local camera/mic.
	logger.Warn("all media capture attempts failed, proceeding receive-only")
	addRecvOnlyTransceivers(pc, logger)
	return pc, nil, nil
}
