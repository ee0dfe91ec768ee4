// Command relayd bridges browser voice clients to a bidirectional
// speech-to-speech inference service.
//
// Clients connect over WebSocket at /ws and speak the framed data-channel
// grammar (client-ready, audio-start, audio-chunk, audio-end). For each
// client connection relayd dials the remote service, starts a session, and
// relays audio both ways until either side disconnects.
//
// Usage:
//
//	relayd -config relay.yaml
//
// Prometheus metrics and a health endpoint are served on the metrics
// address (default :9090).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sonicbridge/voicewire/audio"
	"github.com/sonicbridge/voicewire/config"
	"github.com/sonicbridge/voicewire/credentials"
	"github.com/sonicbridge/voicewire/datachannel"
	"github.com/sonicbridge/voicewire/events"
	"github.com/sonicbridge/voicewire/logger"
	metrics "github.com/sonicbridge/voicewire/metrics/prometheus"
	"github.com/sonicbridge/voicewire/s2s"
	"github.com/sonicbridge/voicewire/tools"
	"github.com/sonicbridge/voicewire/transcript"
	"github.com/sonicbridge/voicewire/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration")
		listenAddr = flag.String("listen", "", "override relay.listen_addr")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	logger.SetVerbose(*verbose)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("cannot load configuration", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else if url := os.Getenv("VOICEWIRE_REMOTE_URL"); url != "" {
		cfg.Remote.URL = url
	}
	if *listenAddr != "" {
		cfg.Relay.ListenAddr = *listenAddr
	}
	if cfg.Remote.URL == "" {
		logger.Error("remote.url is required (config file or VOICEWIRE_REMOTE_URL)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relayd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	bus := events.NewBus()
	bus.SubscribeAll(metrics.NewListener().Handle)

	var signer *credentials.Signer
	if cfg.Remote.SignRequests {
		s, err := credentials.NewSigner(ctx, cfg.Remote.Region)
		if err != nil {
			return err
		}
		signer = s
	}

	relay := &relay{
		cfg:      cfg,
		bus:      bus,
		signer:   signer,
		registry: s2s.NewRegistry(),
		tools:    builtinTools(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.handleWS)

	server := &http.Server{
		Addr:              cfg.Relay.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	exporter := metrics.NewExporter(cfg.Relay.MetricsAddr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", "addr", cfg.Relay.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics listening", "addr", cfg.Relay.MetricsAddr)
		if err := exporter.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exporter.Shutdown(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// relay holds the process-wide collaborators shared by all connections.
type relay struct {
	cfg      *config.Config
	bus      *events.Bus
	signer   *credentials.Signer
	registry *s2s.Registry
	tools    *tools.Registry
}

// handleWS upgrades one client connection and serves it until either side
// disconnects.
func (r *relay) handleWS(w http.ResponseWriter, req *http.Request) {
	client, err := transport.Accept(w, req)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = client.Close() }()

	if err := r.serve(req.Context(), client); err != nil &&
		!errors.Is(err, context.Canceled) {
		logger.Warn("connection closed", "error", err)
	}
}

// serve wires one client to a fresh remote session: assembler, bridge,
// dispatcher, and the duplex connection to the service.
func (r *relay) serve(ctx context.Context, client *transport.ServerConn) error {
	headers := http.Header{}
	if r.signer != nil {
		signed, err := r.signer.SignHeader(ctx, r.cfg.Remote.URL)
		if err != nil {
			return err
		}
		headers = signed
	}

	remote := transport.NewConn(transport.ConnConfig{
		URL:     r.cfg.Remote.URL,
		Headers: headers,
	})
	if err := remote.DialWithRetry(ctx); err != nil {
		return err
	}
	defer func() { _ = remote.Close() }()
	remote.StartHeartbeat(ctx, r.cfg.Remote.PingInterval.Std())

	inference := r.cfg.Inference()
	audioOut := r.cfg.AudioOutput()
	session, err := s2s.NewSession(remote, s2s.SessionConfig{
		Inference:   &inference,
		AudioOutput: &audioOut,
		Tools:       r.tools.Configuration(),
		Bus:         r.bus,
	})
	if err != nil {
		return err
	}
	r.registry.Put(session.ID(), session)
	defer r.registry.Remove(session.ID())

	log := logger.Session(session.ID())
	log.Info("session connected")

	record := transcript.NewMemory()
	dispatcher, err := s2s.NewDispatcher(session, remote, s2s.DispatcherConfig{
		Transcript: sessionTranscript(log, record),
		Tools:      r.tools.ForSession(session.ID()),
		QueueSize:  r.cfg.Relay.FrameQueueSize,
		Bus:        r.bus,
	})
	if err != nil {
		return err
	}

	assembler := datachannel.NewAssembler(datachannel.AssemblerConfig{
		MaxChunkBytes: r.cfg.Audio.MaxChunkBytes,
		IdleTimeout:   r.cfg.Relay.TransferIdleTimeout.Std(),
		OnTimeout: func(transferID string, _ datachannel.Meta) {
			r.bus.Publish(events.New(events.EventTransferTimedOut, session.ID(),
				map[string]interface{}{"transfer_id": transferID}))
		},
	})

	bridge, err := audio.NewBridge(session, dispatcher, client, assembler, audio.BridgeConfig{
		ClientRate:    r.cfg.Audio.ClientRate,
		InputRate:     r.cfg.Audio.InputRate,
		OutputRate:    r.cfg.Audio.OutputRate,
		MaxChunkBytes: r.cfg.Audio.MaxChunkBytes,
		PaceOutput:    r.cfg.Audio.PaceOutput,
		Bus:           r.bus,
	})
	if err != nil {
		return err
	}

	if err := session.Start(ctx); err != nil {
		return err
	}
	if prompt := r.cfg.Session.SystemPrompt; prompt != "" {
		if err := sendSystemPrompt(ctx, session, prompt); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return bridge.Run(ctx) })
	err = g.Wait()

	if endErr := session.End(context.WithoutCancel(ctx)); endErr != nil &&
		!errors.Is(endErr, s2s.ErrAlreadyEnded) {
		log.Warn("session end failed", "error", endErr)
	}
	log.Info("session closed",
		"reason", string(session.Reason()),
		"transcript_entries", len(record.Entries()))
	return err
}

// sendSystemPrompt delivers the system prompt as one SYSTEM text turn before
// any audio flows.
func sendSystemPrompt(ctx context.Context, session *s2s.Session, prompt string) error {
	contentID, err := session.OpenContent(ctx, s2s.ContentSpec{
		Role: s2s.RoleSystem,
		Kind: s2s.KindText,
	})
	if err != nil {
		return err
	}
	if err := session.Feed(ctx, contentID, []byte(prompt)); err != nil {
		return err
	}
	return session.CloseContent(ctx, contentID)
}

// sessionTranscript logs finalized transcript fragments as they arrive and
// retains them in memory for the end-of-session record.
func sessionTranscript(log interface {
	Info(msg string, args ...any)
}, record *transcript.Memory) s2s.TranscriptSink {
	return transcript.SinkFunc(func(role, content string, ts time.Time) {
		record.Append(role, content, ts)
		log.Info("transcript", "role", role, "content", content)
	})
}

// builtinTools registers the tools every relay exposes.
func builtinTools() *tools.Registry {
	reg := tools.NewRegistry()

	// Registration of static specs cannot fail; errors here mean a bad
	// schema literal and abort startup loudly.
	mustRegister(reg, s2s.ToolSpec{
		Name:        "getDateAndTimeTool",
		Description: "Get the current date and time in UTC.",
		InputSchema: s2s.ToolInputSchema{JSON: `{"type":"object","properties":{}}`},
	}, func(_ context.Context, _ string, _ *tools.State) (string, error) {
		now := time.Now().UTC()
		return fmt.Sprintf(`{"date":%q,"time":%q}`,
			now.Format("2006-01-02"), now.Format("15:04:05")), nil
	})

	questions := []string{
		"What brings you here today?",
		"Is there anything else I can help you with?",
	}
	mustRegister(reg, s2s.ToolSpec{
		Name:        "nextQuestionTool",
		Description: "Get the next interview question to ask the user.",
		InputSchema: s2s.ToolInputSchema{JSON: `{"type":"object","properties":{}}`},
	}, func(_ context.Context, _ string, state *tools.State) (string, error) {
		i := state.NextIndex("question", len(questions))
		return fmt.Sprintf(`{"question":%q}`, questions[i]), nil
	})

	return reg
}

func mustRegister(reg *tools.Registry, spec s2s.ToolSpec, handler tools.Handler) {
	if err := reg.Register(spec, handler); err != nil {
		logger.Error("cannot register tool", "tool", spec.Name, "error", err)
		os.Exit(1)
	}
}
