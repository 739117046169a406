package main

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"planning-board/internal/audit"
	auditrepo "planning-board/internal/audit/repository"
	boardhandler "planning-board/internal/board/handler"
	boardservice "planning-board/internal/board/service"
	"planning-board/internal/config"
	"planning-board/internal/db"
	"planning-board/internal/draglock"
	healthhandler "planning-board/internal/health/handler"
	identityservice "planning-board/internal/identity/service"
	orderrepo "planning-board/internal/order/repository"
	orderservice "planning-board/internal/order/service"
	"planning-board/internal/policy/engine"
	"planning-board/internal/realtime"
	"planning-board/internal/security"
	"planning-board/internal/server/middleware"
	"planning-board/internal/telemetry"
	telemetryotel "planning-board/internal/telemetry/otel"
	"planning-board/internal/telemetry/producer"
	userrepo "planning-board/internal/user/repository"
)

const (
	auditMemoryCapacity = 10000
	devTokenTTL         = 12 * time.Hour
)

// app holds the wired components of the server.
type app struct {
	storage       string
	authenticator *identityservice.Authenticator
	board         *boardhandler.Server
	ws            *realtime.Handler
	health        *healthhandler.Server
	sweeper       *draglock.Sweeper
	events        telemetry.EventEmitter

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ready := false
	defer func() {
		if !ready {
			a.close(context.Background())
		}
	}()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.OTelInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	a.closers = append(a.closers, providers.Shutdown)

	emitters := telemetry.MultiEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.BoardEventsTopic); kp != nil {
		log.Printf("telemetry: publishing board events to kafka topic %s", kp.Topic())
		emitters = append(emitters, kp)
		a.closers = append(a.closers, func(context.Context) error { return kp.Close() })
	}
	a.events = emitters

	var (
		orders    orderrepo.Repository
		users     userrepo.Repository
		auditLogs auditrepo.Repository
		pinger    healthhandler.Pinger
	)
	if cfg.DatabaseURL != "" {
		var conn *sql.DB
		conn, err = db.OpenContext(ctx, cfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		orders = orderrepo.NewPostgresRepository(conn)
		users = userrepo.NewPostgresRepository(conn)
		auditLogs = auditrepo.NewPostgresRepository(conn)
		pinger = conn
		a.storage = "postgres"
	} else {
		mo := orderrepo.NewMemoryRepository()
		mu := userrepo.NewMemoryRepository()
		if err = orderrepo.SeedDemo(ctx, mo); err != nil {
			return nil, err
		}
		if err = userrepo.SeedDemo(ctx, mu); err != nil {
			return nil, err
		}
		orders, users, auditLogs = mo, mu, auditrepo.NewMemoryRepository(auditMemoryCapacity)
		a.storage = "memory"
	}

	tokens, err := tokenProvider(cfg)
	if err != nil {
		return nil, err
	}
	a.authenticator = identityservice.NewAuthenticator(tokens, users)

	var authz *engine.OPAAuthorizer
	if cfg.BoardPolicyFile != "" {
		authz, err = engine.NewOPAAuthorizerFromFile(ctx, cfg.BoardPolicyFile)
	} else {
		authz, err = engine.NewOPAAuthorizer(ctx, "")
	}
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	auditLogger := audit.NewLogger(auditLogs, middleware.ClientIPFromContext)
	a.closers = append(a.closers, func(context.Context) error { auditLogger.Wait(); return nil })

	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, cfg.BoardRoom)
	locks := draglock.NewManager(draglock.NewMemoryStore(), cfg.LockTTL(),
		draglock.WithListener(draglock.Listeners{broadcaster, telemetry.NewLockEvents(a.events)}))
	a.sweeper = draglock.NewSweeper(locks, cfg.SweepInterval())

	svc := boardservice.NewService(boardservice.Deps{
		Locks:      locks,
		Reconciler: orderservice.NewReconciler(orders),
		Orders:     orders,
		Authorizer: authz,
		Audit:      auditLogger,
		AuditRepo:  auditLogs,
		Events:     a.events,
		Publisher:  broadcaster,
	})
	a.board = boardhandler.NewServer(svc)
	a.ws = realtime.NewHandler(realtime.Config{
		BoardRoom:      cfg.BoardRoom,
		AllowedOrigins: cfg.AllowedOrigins(),
	}, a.authenticator, svc, registry, broadcaster)
	a.health = healthhandler.NewServer(pinger, authz)

	log.Printf("board: lock ttl=%s sweep=%s room=%s", cfg.LockTTL(), cfg.SweepInterval(), cfg.BoardRoom)
	ready = true
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
	a.closers = nil
}

// tokenProvider builds the access token validator. Outside production, a missing
// JWT_PUBLIC_KEY gets an ephemeral signing key and dev tokens for the demo users are logged.
func tokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	var signer crypto.Signer
	if strings.TrimSpace(cfg.JWTPrivateKey) != "" {
		k, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
		}
		signer = k
	}
	if strings.TrimSpace(cfg.JWTPublicKey) != "" {
		pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
		}
		return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, devTokenTTL), nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate dev signing key: %w", err)
	}
	p := security.NewTokenProvider(key, &key.PublicKey, cfg.JWTIssuer, cfg.JWTAudience, devTokenTTL)
	log.Println("auth: JWT_PUBLIC_KEY not set; using an ephemeral dev signing key")
	for _, u := range userrepo.DemoUsers {
		token, _, err := p.IssueAccess(u.ID, u.Name, string(u.Role))
		if err != nil {
			return nil, err
		}
		log.Printf("auth: dev token user=%s role=%s token=%s", u.ID, u.Role, token)
	}
	return p, nil
}
