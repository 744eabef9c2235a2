package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hybrid_chat/internal/config"
	"hybrid_chat/internal/keystore"
	"hybrid_chat/internal/registry"
	"hybrid_chat/internal/relay"
	auditRepo "hybrid_chat/internal/repository/audit"
	messageRepo "hybrid_chat/internal/repository/message"
	userRepo "hybrid_chat/internal/repository/user"
	"hybrid_chat/internal/secretcache"
	"hybrid_chat/internal/service/audit"
	"hybrid_chat/internal/service/identity"
	redisSvc "hybrid_chat/internal/service/redis"
	"hybrid_chat/internal/service/server"
	"hybrid_chat/internal/utils/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type messageStore interface {
	relay.MessageStore
	server.MessageHistory
}

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		log.Fatal("connect mongo", zap.String("uri", cfg.Mongo.URI), zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database(cfg.Mongo.Database)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var sink audit.Sink
	switch cfg.Audit.Sink {
	case config.SinkLog:
		sink = audit.NewLogSink(log.L().Named("audit"))
	default:
		sink = auditRepo.NewAuditRepo(db)
	}
	dispatcher := audit.NewDispatcher(sink, audit.Options{
		QueueSize: cfg.Audit.QueueSize,
		Timeout:   cfg.Audit.Timeout,
		Metrics:   audit.NewMetrics(reg),
	})

	var messages messageStore
	if cfg.NeedsRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lists := redisSvc.NewRedis(rdb)
		defer lists.Close()
		if err := lists.Ping(ctx); err != nil {
			log.Fatal("connect redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		messages = messageRepo.NewCacheRepo(lists, cfg.MessageStore.HistoryTTL)
	} else {
		repo := messageRepo.NewMessageRepo(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Warn("create message indexes", zap.Error(err))
		}
		messages = repo
	}

	users := userRepo.NewUserRepo(db)
	keys := keystore.NewStore(dispatcher, keystore.Options{
		Directory:     users,
		LookupTimeout: cfg.Relay.CollaboratorTimeout,
	})
	secrets := secretcache.NewCache(keys, dispatcher)

	handler := relay.NewHandler(registry.New(), secrets, messages, dispatcher, relay.Options{
		StrictJoin:          cfg.Relay.StrictJoin,
		VerifyRoundTrip:     cfg.Relay.VerifyRoundTrip,
		CollaboratorTimeout: cfg.Relay.CollaboratorTimeout,
		Metrics:             relay.NewMetrics(reg),
	})

	srv := server.NewHttpServer(handler, users, messages, keys, identity.RequestProvider{}, server.Options{
		Address:             cfg.HTTPAddress,
		SendBuffer:          cfg.Relay.SendBuffer,
		CollaboratorTimeout: cfg.Relay.CollaboratorTimeout,
		Gatherer:            reg,
	})

	log.Info("relay starting",
		zap.String("message_store", cfg.MessageStore.Backend),
		zap.String("audit_sink", cfg.Audit.Sink),
		zap.Bool("strict_join", cfg.Relay.StrictJoin))

	runErr := srv.Run(ctx, cfg.ShutdownGracePeriod)

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := dispatcher.Close(flushCtx); err != nil {
		log.Warn("audit flush incomplete", zap.Error(err))
	}

	if runErr != nil {
		log.Fatal("server exited with error", zap.Error(runErr))
	}
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
