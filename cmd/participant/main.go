// Command participant boots one hdds domain participant: it opens the
// UDP transport plane, starts the discovery engine, hot-reloads QoS and
// permission documents, mints an optional security identity token, wires
// the Prometheus/diagnostics surface, and registers a small built-in
// heartbeat writer/reader pair so the local delivery path is exercised
// on every start. It is the reference wiring a real publish/subscribe
// binary built on this module would follow, not a public client API.
package main

import (
	"context"
	"crypto/rand"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hdds-go/hdds/internal/collab"
	"github.com/hdds-go/hdds/internal/config"
	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/diag"
	"github.com/hdds-go/hdds/internal/discovery"
	"github.com/hdds-go/hdds/internal/metrics"
	"github.com/hdds-go/hdds/internal/mobility"
	"github.com/hdds-go/hdds/internal/permissions"
	"github.com/hdds-go/hdds/internal/qos"
	"github.com/hdds-go/hdds/internal/reader"
	"github.com/hdds-go/hdds/internal/recording"
	"github.com/hdds-go/hdds/internal/registry"
	"github.com/hdds-go/hdds/internal/rtps/dialect"
	"github.com/hdds-go/hdds/internal/security"
	"github.com/hdds-go/hdds/internal/slab"
	"github.com/hdds-go/hdds/internal/transport/udp"
	"github.com/hdds-go/hdds/internal/writer"
)

// heartbeatTopic is the built-in local topic every participant matches
// itself against at startup, proving the registry/merger/history/
// reliability chain is wired end to end before any application writer
// or reader is created.
const heartbeatTopic = "hdds.internal.heartbeat"

func main() {
	cfg := config.Get()

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	log_ := slog.New(handler)
	slog.SetDefault(log_)

	participantPrefix, err := randomGUIDPrefix()
	if err != nil {
		log.Fatalf("failed to generate participant GUID prefix: %v", err)
	}
	participantGUID := ddsid.GUID{Prefix: participantPrefix, Entity: ddsid.EntityIDParticipant}
	log_.Info("starting hdds participant",
		"guid", participantGUID.String(),
		"domain_id", cfg.Transport.DomainID,
		"dialect", cfg.Discovery.Dialect,
	)

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	// ------------------------------------------------------------------
	// Transport plane (§4.9)
	// ------------------------------------------------------------------
	transport, err := udp.Open(udp.Config{
		DomainID:         cfg.Transport.DomainID,
		ParticipantIndex: cfg.Transport.ParticipantIndex,
		TTL:              cfg.Transport.MulticastTTL,
		MulticastGroup:   cfg.Transport.MulticastGroup,
		Logger:           log_,
	})
	if err != nil {
		log.Fatalf("failed to open UDP transport: %v", err)
	}
	defer transport.Close()
	log_.Info("UDP transport open",
		"metatraffic_unicast_port", transport.MetatrafficUnicastPort(),
		"user_data_unicast_port", transport.UserDataUnicastPort(),
	)
	if cfg.Transport.SHM.Enabled {
		log_.Info("SHM ring transport enabled by config; constructed per-endpoint by low-latency writers/readers",
			"segment_name", cfg.Transport.SHM.SegmentName, "ring_capacity", cfg.Transport.SHM.RingCapacity)
	}
	if cfg.Transport.LBW.Enabled {
		log_.Info("LBW constrained-link transport enabled by config; sessions opened per constrained peer",
			"node_id", cfg.Transport.LBW.NodeID, "mtu", cfg.Transport.LBW.MTU)
	}

	// ------------------------------------------------------------------
	// Metrics + diagnostics (ambient stack)
	// ------------------------------------------------------------------
	metricsReg := metrics.NewRegistry()
	hub := diag.NewHub(log_)
	go hub.Run(shutdownCtx.Done())

	// ------------------------------------------------------------------
	// Discovery engine (C12, §4.12)
	// ------------------------------------------------------------------
	dlct, err := dialect.New(dialect.Name(cfg.Discovery.Dialect))
	if err != nil {
		log_.Warn("unknown dialect in config, falling back to default", "configured", cfg.Discovery.Dialect, "error", err)
		dlct = dialect.Default()
	}

	var identityToken string
	var tokenBroker *security.TokenBroker
	var revalidator *security.Revalidator
	var auditor *security.Auditor
	var nonceStore *security.NonceStore
	var rateLimiter *security.RateLimiter
	var spiffeSource *security.SPIFFESource
	if cfg.Security.HMACSecret != "" {
		tokenBroker = security.NewTokenBroker(security.TokenBrokerConfig{
			HMACSecret: cfg.Security.HMACSecret,
			DefaultTTL: time.Duration(cfg.Security.TokenTTLSec) * time.Second,
			Issuer:     cfg.Federation.InstanceID,
		})
		auditor = security.NewAuditor(nil, log_)
		nonceStore = security.NewNonceStore(time.Duration(cfg.Security.TokenTTLSec) * time.Second)
		rateLimiter = security.NewRateLimiter(cfg.Security.ViolationLimit, time.Minute)
		revalidator = security.NewRevalidator(tokenBroker, security.RevalidatorConfig{
			SweepInterval:     time.Duration(cfg.Security.RevalidationSweepMs) * time.Millisecond,
			InactivityTimeout: time.Duration(cfg.Security.InactivityTimeoutS) * time.Second,
			ViolationLimit:    cfg.Security.ViolationLimit,
		}, log_)
		revalidator.Start()
		defer revalidator.Stop()
		defer nonceStore.Stop()

		var issued *security.IdentityToken
		if cfg.Security.SpiffeSocketPath != "" {
			spiffeSource, err = security.NewSPIFFESource(cfg.Security.SpiffeSocketPath, cfg.Security.SpiffeTrustDomain)
			if err != nil {
				log_.Warn("SPIFFE workload API unavailable, issuing unbound identity token", "error", err)
				issued, err = tokenBroker.IssueToken(participantGUID.String(), uint32(cfg.Transport.DomainID))
			} else {
				defer spiffeSource.Close()
				issued, err = tokenBroker.IssueBoundToken(spiffeSource, participantGUID.String(), uint32(cfg.Transport.DomainID))
			}
		} else {
			issued, err = tokenBroker.IssueToken(participantGUID.String(), uint32(cfg.Transport.DomainID))
		}
		if err != nil {
			log_.Error("failed to issue security identity token", "error", err)
		} else {
			identityToken = issued.Token
			revalidator.RegisterSession(issued.TokenID, participantGUID.String())
			auditor.LogEvent(security.AuditEntry{
				ParticipantGUID: participantGUID.String(),
				TokenID:         issued.TokenID,
				EventType:       "token_issued",
				Verdict:         "allow",
			})
		}

		if err := rateLimiter.CheckLimit(participantGUID.String()); err != nil {
			log_.Warn("participant startup rate-limited", "error", err)
		}
	}

	discoveryEngine := discovery.NewEngine(discovery.Config{
		ParticipantGUID:  participantGUID,
		DomainID:         uint32(cfg.Transport.DomainID),
		LeaseDuration:    time.Duration(cfg.Discovery.LeaseDurationSec) * time.Second,
		AnnounceInterval: time.Duration(cfg.Discovery.SPDPPeriodMs) * time.Millisecond,
		Dialect:          dlct,
		Transport:        transport,

		MetatrafficUnicastLocators: []ddsid.Locator{
			ddsid.NewUDPv4Locator(127, 0, 0, 1, uint32(transport.MetatrafficUnicastPort())),
		},
		DefaultUnicastLocators: []ddsid.Locator{
			ddsid.NewUDPv4Locator(127, 0, 0, 1, uint32(transport.UserDataUnicastPort())),
		},

		SecurityIdentityToken: identityToken,
		OnMatch: func(m discovery.Match) {
			log_.Info("endpoint matched", "local", m.Local.GUID.String(), "remote", m.Remote.ParticipantGUID.String())
			hub.ParticipantMatched(m)
		},
		Logger: log_,
	})

	transport.ServeMetatrafficMulticast(func(_ *net.UDPAddr, payload []byte) { discoveryEngine.OnSPDPReceived(payload) })
	transport.ServeMetatrafficUnicast(func(_ *net.UDPAddr, payload []byte) { discoveryEngine.OnSEDPReceived(payload) })

	discoveryEngine.Start(shutdownCtx)
	defer discoveryEngine.Stop()

	// ------------------------------------------------------------------
	// QoS hot reload (§4.13)
	// ------------------------------------------------------------------
	qosWatcher, err := qos.NewWatcher(cfg.QoSProfilePath(), func(old, new qos.Document) {
		log_.Info("QoS profile document reloaded", "profiles", len(new))
		hub.QoSReloaded(cfg.QoSProfilePath(), len(new))
	})
	if err != nil {
		log_.Warn("QoS profile watcher not started", "path", cfg.QoSProfilePath(), "error", err)
	} else {
		defer qosWatcher.Close()
	}

	// ------------------------------------------------------------------
	// Dynamic permissions (§6.6)
	// ------------------------------------------------------------------
	permsManager, err := permissions.New(cfg.Permissions.FilePath, log_)
	if err != nil {
		log_.Warn("permissions document not loaded, running without access control", "path", cfg.Permissions.FilePath, "error", err)
	}
	_ = permsManager

	// ------------------------------------------------------------------
	// IP mobility (C18)
	// ------------------------------------------------------------------
	mobilityMetrics := mobility.NewMetrics(metricsReg.Registerer())
	mobilityMgr := mobility.NewWithCallback(mobility.DefaultConfig(), mobility.NewPollingDetector(mobility.AllInterfaces(), mobility.RoutableAddresses()), mobilityCallback{log: log_, discoveryEngine: discoveryEngine}, mobilityMetrics, log_)
	go pollMobility(shutdownCtx, mobilityMgr)

	// ------------------------------------------------------------------
	// Recording (§6, REDESIGN FLAG #8)
	// ------------------------------------------------------------------
	if cfg.Recording.Enabled {
		lifecycle := collab.NewFileRecordingLifecycle(cfg.Recording.OutputDir)
		w, path, err := lifecycle.OpenNext(shutdownCtx)
		if err != nil {
			log_.Warn("failed to open recording segment", "error", err)
		} else {
			recWriter, err := recording.NewWriter(w, recording.Metadata{DomainID: uint32(cfg.Transport.DomainID)})
			if err != nil {
				log_.Warn("failed to start recording writer", "error", err)
			} else {
				log_.Info("recording started", "path", path)
				defer func() {
					if err := recWriter.Finalize(); err != nil {
						log_.Error("failed to finalize recording", "error", err)
					}
					if err := lifecycle.Close(context.Background(), path); err != nil {
						log_.Error("failed to close recording segment", "error", err)
					}
				}()
			}
		}
	}

	// ------------------------------------------------------------------
	// Built-in heartbeat writer/reader: exercises registry, merger,
	// history, reliability, and cache on every start.
	// ------------------------------------------------------------------
	reg := registry.NewRegistry()
	pool := slab.NewPool(64, 4096)
	heartbeatKey := ddsid.NewTopicKey(heartbeatTopic, "hdds.Heartbeat")
	heartbeatPolicy := qos.Default()

	writerGUID := ddsid.GUID{Prefix: participantPrefix, Entity: ddsid.EntityID{0x00, 0x00, 0x10, 0x03}}
	hbWriter, err := writer.Build(shutdownCtx, writer.Config{
		WriterGUID: writerGUID,
		TopicName:  heartbeatTopic,
		TypeName:   "hdds.Heartbeat",
		Policy:     heartbeatPolicy,
		DomainID:   uint32(cfg.Transport.DomainID),
		Pool:       pool,
		Registry:   reg,
		Logger:     log_,
	})
	if err != nil {
		log_.Warn("failed to build heartbeat writer", "error", err)
	} else {
		readerGUID := ddsid.GUID{Prefix: participantPrefix, Entity: ddsid.EntityID{0x00, 0x00, 0x10, 0x04}}
		hbReader, err := reader.Build(shutdownCtx, reader.Config[[]byte]{
			ReaderGUID:        readerGUID,
			ParticipantPrefix: participantPrefix,
			TopicName:         heartbeatTopic,
			TypeName:          "hdds.Heartbeat",
			Policy:            heartbeatPolicy,
			DomainID:          uint32(cfg.Transport.DomainID),
			Decode:            func(payload []byte) ([]byte, error) { return payload, nil },
			Pool:              pool,
			Registry:          reg,
			Logger:            log_,
		})
		if err != nil {
			log_.Warn("failed to build heartbeat reader", "error", err)
		} else {
			discoveryEngine.RegisterLocalEndpoint(discovery.LocalEndpoint{
				GUID: writerGUID, Kind: ddsid.KindWriter, TopicName: heartbeatTopic, TypeName: "hdds.Heartbeat", Policy: heartbeatPolicy,
			})
			discoveryEngine.RegisterLocalEndpoint(discovery.LocalEndpoint{
				GUID: readerGUID, Kind: ddsid.KindReader, TopicName: heartbeatTopic, TypeName: "hdds.Heartbeat", Policy: heartbeatPolicy,
			})
			log_.Debug("heartbeat topic registered", "topic", heartbeatKey.Topic)
			go runHeartbeat(shutdownCtx, hbWriter, hbReader, log_)
		}
	}

	// ------------------------------------------------------------------
	// Diagnostics HTTP server
	// ------------------------------------------------------------------
	var diagServer *diag.Server
	if cfg.Monitoring.Enabled {
		diagServer = diag.NewServer(metricsReg.Handler(), hub,
			func() []discovery.ParticipantRecord { return discoveryEngine.Participants() },
			func() []discovery.EndpointRecord { return discoveryEngine.RemoteEndpoints() },
			log_,
		)
		go func() {
			log_.Info("diagnostics server listening", "addr", cfg.Monitoring.Addr)
			if err := diagServer.ListenAndServe(cfg.Monitoring.Addr); err != nil && err != http.ErrServerClosed {
				log_.Error("diagnostics server failed", "error", err)
			}
		}()
	}

	// ------------------------------------------------------------------
	// Graceful shutdown
	// ------------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log_.Info("shutdown signal received, stopping participant")
	shutdownCancel()
}

// randomGUIDPrefix generates a fresh participant-identifying GUID
// prefix; collisions are vanishingly unlikely within one domain and are
// otherwise caught at SPDP matching time.
func randomGUIDPrefix() (ddsid.GUIDPrefix, error) {
	var prefix ddsid.GUIDPrefix
	_, err := rand.Read(prefix[:])
	return prefix, err
}

func pollMobility(ctx context.Context, mgr *mobility.Manager) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.Poll()
		}
	}
}

type mobilityCallback struct {
	log             *slog.Logger
	discoveryEngine *discovery.Engine
}

func (c mobilityCallback) OnReannounce(announcementIndex int) {
	c.log.Info("mobility reannounce burst", "index", announcementIndex)
	c.discoveryEngine.AnnounceNow()
}

func (c mobilityCallback) OnStateChange(old, new mobility.State) {
	c.log.Info("mobility state changed", "old", old.String(), "new", new.String())
}

func (c mobilityCallback) OnLocatorsChanged(added, removed []ddsid.Locator) {
	c.log.Info("mobility locators changed", "added", len(added), "removed", len(removed))
}

func runHeartbeat(ctx context.Context, w *writer.Writer, r *reader.Reader[[]byte], log_ *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte("alive"), ddsid.InstanceHandle{}); err != nil {
				log_.Warn("heartbeat write failed", "error", err)
				continue
			}
			if sample, ok := r.Cache().Take(); ok {
				log_.Debug("heartbeat sample delivered locally", "payload", string(sample))
			}
		}
	}
}
