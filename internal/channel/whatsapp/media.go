package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

const (
	opusSampleRate   = 48000
	opusChannelsMono = 1
	opusPayloadType  = 111
	frameDuration    = 20 * time.Millisecond
)

// MediaSession is the WebRTC leg of one call. It answers the caller's SDP
// offer with a single sendrecv transceiver carrying mono opus both ways.
type MediaSession struct {
	pc          *webrtc.PeerConnection
	outputTrack *webrtc.TrackLocalStaticSample
	answerSDP   string

	closeOnce sync.Once
}

// NewMediaSession negotiates a non-trickle answer for the caller's offer.
// Inbound RTP payloads are delivered to onAudio; onStateFailed fires when
// the peer connection fails after setup.
func NewMediaSession(ctx context.Context, offerSDP string, stunServers []string, onAudio func([]byte), onStateFailed func()) (*MediaSession, error) {
	// Register only mono opus so the answer never advertises stereo.
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   opusSampleRate,
			Channels:    opusChannelsMono,
			SDPFmtpLine: "stereo=0;sprop-stereo=0;ptime=20;minptime=10;maxaveragebitrate=20000;maxplaybackrate=16000;sprop-maxcapturerate=16000;useinbandfec=1",
		},
		PayloadType: opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	// The answer takes the active DTLS role.
	se := webrtc.SettingEngine{}
	se.SetAnsweringDTLSRole(webrtc.DTLSRoleClient)

	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, stunURL := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{stunURL}})
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:           iceServers,
		ICECandidatePoolSize: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	session := &MediaSession{pc: pc}

	// A single transceiver must exist before the remote description so the
	// answer carries exactly one m=audio line, matching the offer.
	transceiver, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logger.Base().Info("Caller audio track",
			zap.String("codec", remote.Codec().MimeType),
			zap.Uint32("ssrc", uint32(remote.SSRC())))
		go session.readInbound(remote, onAudio)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Base().Info("Peer connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed && onStateFailed != nil {
			onStateFailed()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	outputTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  opusChannelsMono,
		}, "audio", "ai-output")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create output track: %w", err)
	}

	// ReplaceTrack binds to the existing transceiver; AddTrack would grow a
	// second m=audio line and break the single-line match.
	if err := transceiver.Sender().ReplaceTrack(outputTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("bind output track: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	// Non-trickle: wait for full ICE gathering, then ship one final SDP.
	gatherDone := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherDone:
	case <-ctx.Done():
		pc.Close()
		return nil, fmt.Errorf("ice gathering: %w", ctx.Err())
	}

	session.outputTrack = outputTrack
	session.answerSDP = pc.LocalDescription().SDP
	return session, nil
}

// readInbound drains caller RTP until the track closes.
func (s *MediaSession) readInbound(remote *webrtc.TrackRemote, onAudio func([]byte)) {
	var lastSeq uint16
	var haveSeq bool
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		s.observeSequence(pkt, &lastSeq, &haveSeq)
		if len(pkt.Payload) > 0 && onAudio != nil {
			onAudio(pkt.Payload)
		}
	}
}

// observeSequence logs RTP sequence gaps at debug level for diagnosing
// upstream packet loss.
func (s *MediaSession) observeSequence(pkt *rtp.Packet, lastSeq *uint16, haveSeq *bool) {
	if *haveSeq && pkt.SequenceNumber != *lastSeq+1 {
		logger.Base().Debug("RTP sequence gap",
			zap.Uint16("expected", *lastSeq+1),
			zap.Uint16("got", pkt.SequenceNumber))
	}
	*lastSeq = pkt.SequenceNumber
	*haveSeq = true
}

// AnswerSDP returns the negotiated local description.
func (s *MediaSession) AnswerSDP() string {
	return s.answerSDP
}

// WriteAudio sends one opus frame to the caller.
func (s *MediaSession) WriteAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	return s.outputTrack.WriteSample(media.Sample{
		Data:     frame,
		Duration: frameDuration,
	})
}

// Close releases the peer connection. Safe to call more than once.
func (s *MediaSession) Close() {
	s.closeOnce.Do(func() {
		if s.pc != nil {
			_ = s.pc.Close()
		}
	})
}
