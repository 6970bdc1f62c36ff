// Package bridge wires the chat client, PTY runtime, hook server, stream
// server and message router into one daemon and owns their lifecycle.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/discode-sh/discode/internal/agents"
	"github.com/discode-sh/discode/internal/chat"
	"github.com/discode-sh/discode/internal/config"
	"github.com/discode-sh/discode/internal/hookserver"
	"github.com/discode-sh/discode/internal/pending"
	"github.com/discode-sh/discode/internal/ptyruntime"
	"github.com/discode-sh/discode/internal/router"
	"github.com/discode-sh/discode/internal/state"
	"github.com/discode-sh/discode/internal/streaming"
	"github.com/discode-sh/discode/internal/streamserver"
)

// Bridge is the composition root of the daemon.
type Bridge struct {
	// Config holds the daemon configuration.
	Config *config.Config

	// Store holds project and instance records.
	Store state.Store

	// Client is the connected chat platform.
	Client chat.Client

	// Runtime owns agent PTY windows.
	Runtime *ptyruntime.Runtime

	// Tracker follows prompt lifecycles and message reactions.
	Tracker *pending.Tracker

	// Updater maintains streamed progress messages.
	Updater *streaming.Updater

	// Router carries inbound chat messages to agent windows.
	Router *router.Router

	// Runners holds live SDK runners.
	Runners *agents.RunnerRegistry

	// HookServer receives agent hook events over HTTP.
	HookServer *hookserver.Server

	// StreamServer serves live terminal frames over the unix socket.
	StreamServer *streamserver.Server

	// Logger for structured logging.
	Logger *slog.Logger

	started bool
}

// New assembles a bridge. injector may be nil when container mode is not in
// use. Nothing starts until Start.
func New(cfg *config.Config, store state.Store, client chat.Client, injector router.FileInjector, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	runtime := ptyruntime.New(logger)
	tracker := pending.New(client, logger)
	updater := streaming.New(client, logger)
	runners := agents.NewRunnerRegistry()

	b := &Bridge{
		Config:  cfg,
		Store:   store,
		Client:  client,
		Runtime: runtime,
		Tracker: tracker,
		Updater: updater,
		Runners: runners,
		Logger:  logger,
	}

	b.Router = router.New(cfg, store, tracker, client, runtime, runners, injector, logger)
	b.HookServer = hookserver.New(cfg, store, tracker, updater, client, runtime, logger)
	b.StreamServer = streamserver.New(cfg.StreamSocket, &runtimeSource{runtime: runtime}, logger)

	return b
}

// Start connects the chat client, restores persisted windows, registers the
// router and brings up the hook and stream servers.
func (b *Bridge) Start(ctx context.Context) error {
	b.Logger.Info("Starting bridge", "platform", b.Client.Platform())

	if err := b.Client.Connect(ctx); err != nil {
		return fmt.Errorf("could not connect chat client: %w", err)
	}

	b.bootstrapProjects()

	b.Router.Register()

	if err := b.HookServer.Start(); err != nil {
		b.Stop()
		return fmt.Errorf("could not start hook server: %w", err)
	}

	b.Runtime.OnFrame(func(windowID string, bufferLen int) {
		b.StreamServer.NotifyFrame(windowID)
	})
	b.Runtime.OnExit(func(windowID string, exitCode *int, signal string) {
		b.StreamServer.NotifyExit(windowID, exitCode, signal)
	})

	if err := b.StreamServer.Start(); err != nil {
		b.Stop()
		return fmt.Errorf("could not start stream server: %w", err)
	}

	b.started = true
	b.Logger.Info("Bridge started",
		"hookPort", b.Config.HookPort,
		"streamSocket", b.StreamServer.SocketPath(),
	)
	return nil
}

// bootstrapProjects reloads persisted projects and restores their agent
// windows. Restore failures are logged per window; a half-restored project
// is still routable for its live instances.
func (b *Bridge) bootstrapProjects() {
	for _, project := range b.Store.ListProjects() {
		sessionName := project.TmuxSession
		if sessionName == "" {
			sessionName = project.ProjectName
		}
		session := b.Runtime.GetOrCreateSession(sessionName)
		b.Runtime.SetSessionEnv(session, "DISCODE_PROJECT", project.ProjectName)

		for instanceID, instance := range project.Instances {
			b.Logger.Info("Bound instance channel",
				"project", project.ProjectName,
				"instance", instanceID,
				"channel", instance.ChannelID,
			)

			if instance.RuntimeType == state.RuntimeTypeSDK {
				continue
			}
			if instance.Command == "" || instance.TmuxWindow == "" {
				continue
			}
			if b.Runtime.WindowExists(session, instance.TmuxWindow) {
				continue
			}

			if err := b.Runtime.StartAgentInWindow(session, instance.TmuxWindow, instance.Command); err != nil {
				b.Logger.Warn("Could not restore agent window",
					"project", project.ProjectName,
					"window", instance.TmuxWindow,
					"error", err,
				)
			}
		}
	}
}

// Stop tears everything down in reverse order. Safe to call on a partially
// started bridge; every step is best-effort.
func (b *Bridge) Stop() {
	b.Logger.Info("Stopping bridge")

	if b.Runners != nil {
		b.Runners.DisposeAll()
	}
	if b.StreamServer != nil {
		b.StreamServer.Stop()
	}
	if b.HookServer != nil {
		b.HookServer.Stop()
	}
	if b.Router != nil {
		b.Router.Stop()
	}
	if b.Runtime != nil {
		b.Runtime.Shutdown()
	}
	if b.Client != nil {
		if err := b.Client.Disconnect(); err != nil {
			b.Logger.Warn("Chat client disconnect failed", "error", err)
		}
	}

	b.started = false
}

// Started reports whether Start completed.
func (b *Bridge) Started() bool {
	return b.started
}
