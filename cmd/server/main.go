package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabdraw-server/internal/config"
	"collabdraw-server/internal/handler"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/middleware"
	"collabdraw-server/internal/repository"
	"collabdraw-server/internal/service"
	"collabdraw-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	ctx := context.Background()

	boards, actions, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		fatal(log, "failed to open board store", err)
	}
	defer closeStore()

	presence, closePresence, err := openPresence(ctx, cfg.Redis, log)
	if err != nil {
		fatal(log, "failed to connect to redis", err)
	}
	defer closePresence()

	boardService := service.NewBoardService(boards, actions, service.NewFeedClock(nil), log.With("component", "boards"))
	exportService := service.NewExportService(boards, actions, cfg.Canvas.Width, cfg.Canvas.Height, log.With("component", "export"))
	backgroundService := service.NewBackgroundService(cfg.Background.PlaceholderURL, cfg.Background.Delay, log.With("component", "background"))

	wsManager := websocket.NewManager(presence, websocket.Options{
		MaxConnPerBoard: cfg.WebSocket.MaxConnPerBoard,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		WriteWait:       cfg.WebSocket.WriteWait,
		PongWait:        cfg.WebSocket.PongWait,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		PresenceRefresh: cfg.Redis.PresenceTTL / 2,
	}, log.With("component", "websocket"))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go wsManager.Run(runCtx)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(boardService, log))

	wsHandler := handler.NewWebSocketHandler(
		wsManager,
		boardService,
		cfg.WebSocket.ReadBufferSize,
		cfg.WebSocket.WriteBufferSize,
		log,
	)
	wsHandler.CheckOrigin(middleware.ParseOrigins(cfg.CORS.AllowedOrigins).Allows)

	r := handler.NewRouter(handler.Handlers{
		Board:      handler.NewBoardHandler(boardService, exportService, presence, cfg.Server.MaxBodySize, log),
		Background: handler.NewBackgroundHandler(backgroundService),
		WebSocket:  wsHandler,
	},
		middleware.LoggerMiddleware(log),
		middleware.CORSMiddleware(
			cfg.CORS.AllowedOrigins,
			cfg.CORS.AllowedMethods,
			cfg.CORS.AllowedHeaders,
		),
	)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info(ctx, "starting collabdraw server", "addr", addr, "env", cfg.Server.Env, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "server failed to start", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server forced to shutdown", "error", err)
		return
	}

	log.Info(ctx, "server stopped gracefully")
}

func fatal(log logging.Logger, msg string, err error) {
	log.Error(context.Background(), msg, "error", err)
	os.Exit(1)
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log logging.Logger) (repository.BoardRepository, repository.ActionRepository, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn(ctx, "using in-memory board store; boards are lost on restart")
		store := repository.NewMemoryStore()
		return store, store, func() {}, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to ping mongo: %w", err)
		}
		db := client.Database(cfg.Name)
		actions := repository.NewMongoActionRepository(db.Collection(repository.ActionsCollection))
		if err := actions.EnsureIndexes(ctx); err != nil {
			return nil, nil, nil, err
		}
		log.Info(ctx, "connected to mongo", "database", cfg.Name)
		closeFn := func() { client.Disconnect(context.Background()) }
		return repository.NewMongoBoardRepository(db.Collection(repository.BoardsCollection)), actions, closeFn, nil

	default:
		client, err := kivik.New("couch", cfg.CouchURL())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to couchdb: %w", err)
		}

		exists, err := client.DBExists(ctx, cfg.Name)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to check database existence: %w", err)
		}
		if !exists {
			if !cfg.AutoCreate {
				return nil, nil, nil, fmt.Errorf("database %s does not exist", cfg.Name)
			}
			if err := client.CreateDB(ctx, cfg.Name); err != nil {
				return nil, nil, nil, fmt.Errorf("failed to create database: %w", err)
			}
			log.Info(ctx, "created database", "database", cfg.Name)
		}

		log.Info(ctx, "connected to couchdb", "host", cfg.Host, "port", cfg.Port)
		closeFn := func() { client.Close() }
		return repository.NewCouchBoardRepository(client, cfg.Name), repository.NewCouchActionRepository(client, cfg.Name), closeFn, nil
	}
}

func openPresence(ctx context.Context, cfg config.RedisConfig, log logging.Logger) (repository.PresenceRepository, func(), error) {
	if cfg.Addr == "" {
		log.Info(ctx, "REDIS_ADDR not set, tracking presence in memory")
		return repository.NewMemoryPresence(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	log.Info(ctx, "connected to redis", "addr", cfg.Addr)
	return repository.NewRedisPresenceRepository(client, cfg.PresenceTTL), func() { client.Close() }, nil
}
