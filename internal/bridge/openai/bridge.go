package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/bridge/provider"
	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const inboundQueueSize = 64

// Bridge is a realtime API session over a single websocket. Caller audio
// goes through a bounded queue into input_audio_buffer.append events;
// response.audio.delta events come back through the OnAudio callback.
type Bridge struct {
	cfg    provider.Config
	params provider.Params

	conn  *websocket.Conn
	queue *provider.FrameQueue

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewBridge creates an unconnected bridge.
func NewBridge(cfg provider.Config, params provider.Params) *Bridge {
	return &Bridge{
		cfg:    cfg,
		params: params,
		queue:  provider.NewFrameQueue(inboundQueueSize),
		done:   make(chan struct{}),
	}
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities        []string `json:"modalities"`
	Voice             string   `json:"voice"`
	InputAudioFormat  string   `json:"input_audio_format"`
	OutputAudioFormat string   `json:"output_audio_format"`
	Instructions      string   `json:"instructions,omitempty"`
	TurnDetection     struct {
		Type string `json:"type"`
	} `json:"turn_detection"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type serverEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Connect dials the realtime endpoint, configures the session, and starts
// the writer and reader goroutines.
func (b *Bridge) Connect(ctx context.Context) error {
	if b.cfg.APIKey == "" {
		return fmt.Errorf("openai api key not configured")
	}

	url := fmt.Sprintf("%s?model=%s", b.cfg.BaseURL, b.cfg.Model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("openai realtime dial: %w", err)
	}

	update := sessionUpdateEvent{Type: "session.update"}
	update.Session.Modalities = []string{"audio", "text"}
	update.Session.Voice = b.cfg.Voice
	update.Session.InputAudioFormat = "g711_ulaw"
	update.Session.OutputAudioFormat = "g711_ulaw"
	update.Session.TurnDetection.Type = "server_vad"
	if b.params.Language != "" {
		update.Session.Instructions = fmt.Sprintf("Respond in %s unless the caller switches language.", b.params.Language)
	}
	if err := conn.WriteJSON(update); err != nil {
		conn.Close()
		return fmt.Errorf("openai session update: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	go b.writeLoop()
	go b.readLoop()

	logger.Base().Info("OpenAI realtime session established",
		zap.String("session_id", b.params.SessionID),
		zap.String("model", b.cfg.Model))
	return nil
}

// SendAudio queues a caller audio frame for delivery.
func (b *Bridge) SendAudio(frame []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return provider.ErrBridgeClosed
	}
	b.queue.Push(frame)
	return nil
}

// Close shuts the session down. Safe to call more than once.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		conn := b.conn
		b.mu.Unlock()
		close(b.done)
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
			_ = conn.Close()
		}
		if dropped := b.queue.Dropped(); dropped > 0 {
			logger.Base().Warn("Dropped caller audio frames under backpressure",
				zap.String("session_id", b.params.SessionID),
				zap.Uint64("dropped", dropped))
		}
	})
	return nil
}

func (b *Bridge) writeLoop() {
	for {
		select {
		case <-b.done:
			return
		case frame := <-b.queue.C():
			event := audioAppendEvent{
				Type:  "input_audio_buffer.append",
				Audio: base64.StdEncoding.EncodeToString(frame),
			}
			b.mu.Lock()
			conn := b.conn
			closed := b.closed
			b.mu.Unlock()
			if closed || conn == nil {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				b.fail(fmt.Errorf("openai audio write: %w", err))
				return
			}
		}
	}
}

func (b *Bridge) readLoop() {
	for {
		b.mu.Lock()
		conn := b.conn
		closed := b.closed
		b.mu.Unlock()
		if closed || conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			b.fail(fmt.Errorf("openai read: %w", err))
			return
		}

		var event serverEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			logger.Base().Warn("Unparseable realtime event",
				zap.String("session_id", b.params.SessionID), zap.Error(err))
			continue
		}

		switch event.Type {
		case "response.audio.delta":
			if b.params.OnAudio == nil || event.Delta == "" {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(event.Delta)
			if err != nil {
				logger.Base().Warn("Bad audio delta encoding",
					zap.String("session_id", b.params.SessionID), zap.Error(err))
				continue
			}
			b.params.OnAudio(audio)
		case "response.done":
			if b.params.OnTurn != nil {
				b.params.OnTurn()
			}
		case "error":
			msg := "unknown"
			if event.Error != nil {
				msg = event.Error.Message
			}
			logger.Base().Error("Realtime API error",
				zap.String("session_id", b.params.SessionID),
				zap.String("message", msg))
		}
	}
}

func closeDeadline() time.Time {
	return time.Now().Add(2 * time.Second)
}

// fail closes the bridge and notifies the owner, unless Close already ran.
func (b *Bridge) fail(err error) {
	b.mu.Lock()
	alreadyClosed := b.closed
	b.mu.Unlock()

	_ = b.Close()
	if !alreadyClosed && b.params.OnClosed != nil {
		b.params.OnClosed(err)
	}
}
