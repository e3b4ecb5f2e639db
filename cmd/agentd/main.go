// Command agentd is the composition root: it wires configuration,
// observability, persistence backends, the memory core, the LLM provider,
// and the HTTP surface, then serves until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"memagent/internal/agent"
	"memagent/internal/agentd"
	"memagent/internal/auth"
	"memagent/internal/config"
	"memagent/internal/events"
	"memagent/internal/llm/providers"
	"memagent/internal/memmanager"
	"memagent/internal/observability"
	"memagent/internal/persistence/databases"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdown, err := observability.InitOTel(context.Background(), cfg.OTel)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
		observability.EnableOTelLogBridge(cfg.OTel.ServiceName)
	}

	httpClient := observability.NewHTTPClient(nil)

	ctx := context.Background()
	dbMgr, err := databases.NewManager(ctx, cfg.Database, cfg.Relational.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init databases")
	}
	defer dbMgr.Close()

	if err := dbMgr.Users.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init user store")
	}
	if err := dbMgr.Conversation.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init conversation store")
	}
	if err := dbMgr.ModelConfigs.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init model config store")
	}
	if err := dbMgr.MemoryRecord.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init memory record store")
	}

	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build llm provider")
	}

	pub, err := events.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init audit publisher")
	}
	defer pub.Close()

	memMgr := memmanager.New(dbMgr.Vector, dbMgr.Graph, cfg.Embedding, cfg.Memory, pub)

	var revocation auth.RevocationStore
	if redisStore, err := auth.NewRedisRevocationStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Auth.RevocationKeyPrefix); err != nil {
		log.Warn().Err(err).Msg("redis revocation store unavailable, tokens cannot be revoked")
	} else {
		revocation = redisStore
	}
	verifier := auth.NewBearerVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, revocation, dbMgr.Users)

	tracer := agent.NewOTELTracer()
	srv := agentd.NewServer(dbMgr.Conversation, dbMgr.ModelConfigs, memMgr, verifier, provider, cfg, tracer)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("agentd listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, srv.Router()); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
