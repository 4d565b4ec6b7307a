package main

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reflex/go/internal/admin"
	"github.com/mcdev12/reflex/go/internal/bus"
	"github.com/mcdev12/reflex/go/internal/config"
	"github.com/mcdev12/reflex/go/internal/coordinator"
	"github.com/mcdev12/reflex/go/internal/gateway"
	"github.com/mcdev12/reflex/go/internal/metrics"
	"github.com/mcdev12/reflex/go/internal/room"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Metrics     *metrics.Collector
	Connections *gateway.ConnectionManager
	Coordinator *coordinator.Coordinator
	WebSocket   *gateway.WebSocketHandler
	Health      *gateway.HealthHandler
	Admin       *admin.Service

	// Nil when NATS is disabled.
	Publisher *bus.JetStreamPublisher
	Relay     *bus.Relay

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	// Wire up the broadcast chain
	// coordinator → gateway (clients) → bus relay (JetStream) → metrics

	collector := metrics.New()

	connections := gateway.NewConnectionManager(gateway.ConnectionConfig{
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		PingInterval:    cfg.WebSocket.PingInterval,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  cfg.WebSocket.SendBufferSize,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, collector)

	broadcasters := room.Broadcasters{connections}

	s := &Services{
		Metrics:     collector,
		Connections: connections,
	}

	if cfg.NATS.Enabled {
		jsCfg := bus.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.Stream
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		publisher, err := bus.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			return nil, err
		}
		relayCfg := bus.DefaultRelayConfig()
		relayCfg.BufferSize = cfg.NATS.BufferSize

		s.Publisher = publisher
		s.Relay = bus.NewRelay(publisher, relayCfg, collector)
		broadcasters = append(broadcasters, s.Relay)

		log.Info().
			Str("url", jsCfg.URL).
			Str("stream", jsCfg.StreamName).
			Str("subject_prefix", jsCfg.SubjectPrefix).
			Msg("mirroring room events to JetStream")
	}
	broadcasters = append(broadcasters, collector)

	delays, err := room.NewDelayPolicy(cfg.Game.CountdownMin, cfg.Game.CountdownMax, nil)
	if err != nil {
		return nil, err
	}

	s.Coordinator = coordinator.New(coordinator.Config{
		Clock:             clockwork.NewRealClock(),
		Delays:            delays,
		MaxUsernameLength: cfg.Game.MaxUsernameLength,
		QueueSize:         cfg.Game.QueueSize,
		Observer:          collector,
	}, broadcasters)

	s.WebSocket = gateway.NewWebSocketHandler(connections, s.Coordinator)
	s.Admin = admin.NewService(s.Coordinator)

	var natsConnected func() bool
	if s.Publisher != nil {
		natsConnected = s.Publisher.Connected
	}
	s.Health = gateway.NewHealthHandler(s.Coordinator.Alive, natsConnected, connections)

	return s, nil
}

// Start runs the coordinator loop and the bus relay. They stop on Stop, not
// on the caller's context, so shutdown can drain connections first.
func (s *Services) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Coordinator.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("room coordinator failed")
		}
	}()

	if s.Relay != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Relay.Run(runCtx); err != nil {
				log.Error().Err(err).Msg("bus relay failed")
			}
		}()
	}
}

// Stop closes client connections, stops the background loops and closes the
// NATS connection, giving up when ctx expires.
func (s *Services) Stop(ctx context.Context) {
	s.Connections.CloseAll()
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("timed out waiting for background services")
	}

	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close NATS connection")
		}
	}
}
