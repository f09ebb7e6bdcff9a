package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/bridge/provider"
	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	inboundQueueSize = 64
	bidiServicePath  = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Bridge is a Gemini Live session over a single websocket. The setup
// handshake runs inside Connect so a failed setup surfaces as a start
// error rather than a mid-call drop.
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

type setupMessage struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
		} `json:"generationConfig"`
		SystemInstruction *content `json:"systemInstruction,omitempty"`
	} `json:"setup"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	RealtimeInput struct {
		MediaChunks []blob `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []part `json:"parts"`
		} `json:"modelTurn,omitempty"`
		TurnComplete bool `json:"turnComplete,omitempty"`
	} `json:"serverContent,omitempty"`
}

// Connect dials the Live endpoint, completes the setup handshake, and
// starts the writer and reader goroutines.
func (b *Bridge) Connect(ctx context.Context) error {
	if b.cfg.APIKey == "" {
		return fmt.Errorf("gemini api key not configured")
	}

	url := fmt.Sprintf("%s%s?key=%s", b.cfg.BaseURL, bidiServicePath, b.cfg.APIKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("gemini live dial: %w", err)
	}

	var setup setupMessage
	setup.Setup.Model = "models/" + b.cfg.Model
	setup.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	if b.params.Language != "" {
		setup.Setup.SystemInstruction = &content{Parts: []part{
			{Text: fmt.Sprintf("Respond in %s unless the caller switches language.", b.params.Language)},
		}}
	}
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return fmt.Errorf("gemini setup write: %w", err)
	}

	// The first server frame must acknowledge the setup.
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("gemini setup response: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var resp serverMessage
	if err := json.Unmarshal(msg, &resp); err != nil || resp.SetupComplete == nil {
		conn.Close()
		return fmt.Errorf("gemini setup not acknowledged: %s", string(msg))
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	go b.writeLoop()
	go b.readLoop()

	logger.Base().Info("Gemini live session established",
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
			var input realtimeInput
			input.RealtimeInput.MediaChunks = []blob{{
				MimeType: "audio/pcm;rate=16000",
				Data:     base64.StdEncoding.EncodeToString(frame),
			}}
			b.mu.Lock()
			conn := b.conn
			closed := b.closed
			b.mu.Unlock()
			if closed || conn == nil {
				return
			}
			if err := conn.WriteJSON(input); err != nil {
				b.fail(fmt.Errorf("gemini audio write: %w", err))
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
			b.fail(fmt.Errorf("gemini read: %w", err))
			return
		}

		var event serverMessage
		if err := json.Unmarshal(msg, &event); err != nil {
			logger.Base().Warn("Unparseable live event",
				zap.String("session_id", b.params.SessionID), zap.Error(err))
			continue
		}
		if event.ServerContent == nil {
			continue
		}

		if turn := event.ServerContent.ModelTurn; turn != nil && b.params.OnAudio != nil {
			for _, p := range turn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				audio, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					logger.Base().Warn("Bad audio chunk encoding",
						zap.String("session_id", b.params.SessionID), zap.Error(err))
					continue
				}
				b.params.OnAudio(audio)
			}
		}
		if event.ServerContent.TurnComplete && b.params.OnTurn != nil {
			b.params.OnTurn()
		}
	}
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
