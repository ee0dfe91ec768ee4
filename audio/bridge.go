package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sonicbridge/voicewire/datachannel"
	"github.com/sonicbridge/voicewire/events"
	"github.com/sonicbridge/voicewire/logger"
	"github.com/sonicbridge/voicewire/s2s"
)

// feedChunkBytes is the segment size for streaming an assembled frame into
// the session as audioInput events.
const feedChunkBytes = 8 * 1024

// ClientTransport is the client-facing data channel the bridge speaks the
// framed audio grammar over.
type ClientTransport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// ClientRate is the PCM16 sample rate of client uploads and the rate
	// playback is delivered at. Defaults to SampleRate48kHz.
	ClientRate int

	// InputRate is the rate the service expects speech input at.
	// Defaults to SampleRate16kHz.
	InputRate int

	// OutputRate is the rate the service synthesizes at.
	// Defaults to SampleRate24kHz.
	OutputRate int

	// MaxChunkBytes bounds outbound data-channel chunk payloads.
	// Defaults to datachannel.DefaultMaxChunkBytes.
	MaxChunkBytes int

	// PaceOutput paces playback chunks to the client's real-time byte rate
	// instead of bursting a whole turn at once.
	PaceOutput bool

	// Label tags server-originated data-channel messages.
	Label string

	// Bus receives bridge events. Optional.
	Bus *events.Bus
}

func (c *BridgeConfig) defaults() {
	if c.ClientRate == 0 {
		c.ClientRate = SampleRate48kHz
	}
	if c.InputRate == 0 {
		c.InputRate = SampleRate16kHz
	}
	if c.OutputRate == 0 {
		c.OutputRate = SampleRate24kHz
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = datachannel.DefaultMaxChunkBytes
	}
	if c.Label == "" {
		c.Label = "server"
	}
}

// Bridge glues the chunk assembler to the session protocol: client transfers
// are reassembled, resampled, and fed into the session as one audio turn
// under a fresh content id; assistant frames coming back from the dispatcher
// are resampled, split into chunks, and played back to the client with the
// same framing grammar.
type Bridge struct {
	session    *s2s.Session
	dispatcher *s2s.Dispatcher
	client     ClientTransport
	assembler  *datachannel.Assembler
	cfg        BridgeConfig
	limiter    *rate.Limiter

	mu              sync.Mutex
	currentTransfer string

	ready     chan struct{}
	readyOnce sync.Once
}

// NewBridge creates a bridge between a client transport and a session.
func NewBridge(session *s2s.Session, dispatcher *s2s.Dispatcher, client ClientTransport, assembler *datachannel.Assembler, cfg BridgeConfig) (*Bridge, error) {
	if session == nil || dispatcher == nil || client == nil || assembler == nil {
		return nil, fmt.Errorf("audio: session, dispatcher, client and assembler are required")
	}
	cfg.defaults()

	b := &Bridge{
		session:    session,
		dispatcher: dispatcher,
		client:     client,
		assembler:  assembler,
		cfg:        cfg,
		ready:      make(chan struct{}),
	}
	if cfg.PaceOutput {
		// 16-bit mono: two bytes per sample per second of playback.
		bytesPerSec := cfg.ClientRate * 2
		b.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), cfg.MaxChunkBytes)
	}
	return b, nil
}

// Run drives both directions until the context is canceled or a transport
// fails. Pending assemblies are reclaimed on the way out.
func (b *Bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.playbackLoop(ctx) })
	g.Go(func() error { return b.clientLoop(ctx) })

	err := g.Wait()
	b.assembler.Close()
	return err
}

// clientLoop reads framed messages from the client transport. A malformed
// message is logged and skipped; a transport failure ends the loop.
func (b *Bridge) clientLoop(ctx context.Context) error {
	for {
		data, err := b.client.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("audio: client receive: %w", err)
		}
		if err := b.HandleClientMessage(ctx, data); err != nil {
			logger.Warn("client message failed",
				"session_id", b.session.ID(), "error", err)
		}
	}
}

// HandleClientMessage routes one framed data-channel message.
func (b *Bridge) HandleClientMessage(ctx context.Context, data []byte) error {
	msg, err := datachannel.DecodeMessage(data)
	if err != nil {
		return err
	}

	switch msg.Type {
	case datachannel.TypeClientReady:
		b.readyOnce.Do(func() { close(b.ready) })
		logger.Debug("client ready", "session_id", b.session.ID())
		return nil

	case datachannel.TypeAudioStart:
		return b.handleAudioStart(msg)

	case datachannel.TypeAudioChunk:
		return b.handleAudioChunk(msg)

	case datachannel.TypeAudioEnd:
		return b.handleAudioEnd(ctx, msg)

	default:
		logger.Debug("ignoring client message",
			"session_id", b.session.ID(), "type", string(msg.Type))
		return nil
	}
}

func (b *Bridge) handleAudioStart(msg *datachannel.Message) error {
	p, err := msg.Start()
	if err != nil {
		return err
	}

	b.mu.Lock()
	prev := b.currentTransfer
	b.currentTransfer = p.Filename
	b.mu.Unlock()

	// A new upload while one is in flight means the old one was abandoned
	// mid-transfer; its late chunks must not leak into the new turn.
	if prev != "" && prev != p.Filename {
		b.assembler.Abandon(prev)
	}

	return b.assembler.Begin(p.Filename, p.TotalChunks, datachannel.Meta{
		Filename: p.Filename,
		MimeType: p.MimeType,
		Size:     p.FileSize,
	})
}

func (b *Bridge) handleAudioChunk(msg *datachannel.Message) error {
	p, err := msg.ChunkData()
	if err != nil {
		return err
	}

	b.mu.Lock()
	transferID := b.currentTransfer
	b.mu.Unlock()
	if transferID == "" {
		return datachannel.ErrUnknownTransfer
	}

	return b.assembler.Accept(transferID, datachannel.Chunk{
		Index:   p.ChunkIndex,
		Total:   p.TotalChunks,
		Payload: p.Chunk,
	})
}

// handleAudioEnd assembles the finished transfer and streams it into the
// session as one audio turn: fresh content id, audioInput segments in order,
// content end.
func (b *Bridge) handleAudioEnd(ctx context.Context, msg *datachannel.Message) error {
	p, err := msg.End()
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.currentTransfer == p.Filename {
		b.currentTransfer = ""
	}
	b.mu.Unlock()

	frame, err := b.assembler.Finish(p.Filename)
	if err != nil {
		return err
	}

	pcm, err := ResamplePCM16(frame.Data, b.cfg.ClientRate, b.cfg.InputRate)
	if err != nil {
		return err
	}

	contentID, err := b.session.OpenContent(ctx, s2s.ContentSpec{
		Role: s2s.RoleUser,
		Kind: s2s.KindAudio,
	})
	if err != nil {
		return err
	}
	for _, segment := range datachannel.Split(pcm, feedChunkBytes) {
		if err := b.session.Feed(ctx, contentID, segment.Payload); err != nil {
			return err
		}
	}
	return b.session.CloseContent(ctx, contentID)
}

// playbackLoop drains assembled assistant frames from the dispatcher and
// plays them back to the client. It exits when the dispatcher closes the
// queue or the context is canceled. No audio leaves until the client has
// announced client-ready; frames arriving before that hold on the bounded
// queue and backpressure the dispatcher.
func (b *Bridge) playbackLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-b.dispatcher.Frames():
			if !ok {
				return nil
			}
			select {
			case <-b.ready:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := b.sendFrame(ctx, frame); err != nil {
				return err
			}
		}
	}
}

// sendFrame delivers one synthesized frame as an audio-start / audio-chunk*
// / audio-end sequence, optionally paced to the client's playback rate.
func (b *Bridge) sendFrame(ctx context.Context, frame []byte) error {
	pcm, err := ResamplePCM16(frame, b.cfg.OutputRate, b.cfg.ClientRate)
	if err != nil {
		return err
	}

	transferID := uuid.New().String()
	chunks := datachannel.Split(pcm, b.cfg.MaxChunkBytes)

	start, err := datachannel.EncodeMessage(datachannel.TypeAudioStart, b.cfg.Label, datachannel.StartPayload{
		Filename:    transferID,
		FileSize:    len(pcm),
		MimeType:    fmt.Sprintf("audio/lpcm;rate=%d", b.cfg.ClientRate),
		TotalChunks: len(chunks),
	})
	if err != nil {
		return err
	}
	if err := b.client.Send(ctx, start); err != nil {
		return fmt.Errorf("audio: send playback start: %w", err)
	}

	for _, chunk := range chunks {
		if b.limiter != nil {
			if err := b.limiter.WaitN(ctx, len(chunk.Payload)); err != nil {
				return err
			}
		}
		data, err := datachannel.EncodeMessage(datachannel.TypeAudioChunk, b.cfg.Label, datachannel.ChunkPayload{
			ChunkIndex:  chunk.Index,
			TotalChunks: chunk.Total,
			Chunk:       chunk.Payload,
		})
		if err != nil {
			return err
		}
		if err := b.client.Send(ctx, data); err != nil {
			return fmt.Errorf("audio: send playback chunk %d: %w", chunk.Index, err)
		}
	}

	end, err := datachannel.EncodeMessage(datachannel.TypeAudioEnd, b.cfg.Label, datachannel.EndPayload{
		Filename: transferID,
	})
	if err != nil {
		return err
	}
	if err := b.client.Send(ctx, end); err != nil {
		return fmt.Errorf("audio: send playback end: %w", err)
	}

	b.cfg.Bus.Publish(events.New(events.EventAudioFrameReady, b.session.ID(), map[string]interface{}{
		"bytes":  len(pcm),
		"chunks": len(chunks),
	}))
	return nil
}
