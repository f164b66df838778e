package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/parley/chat-server/internal/chat"
	"github.com/parley/chat-server/internal/config"
	"github.com/parley/chat-server/internal/httpapi"
	"github.com/parley/chat-server/internal/messaging"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/ratelimit"
	"github.com/parley/chat-server/internal/session"
	"github.com/parley/chat-server/internal/store"
	"github.com/parley/chat-server/internal/ws"
)

// handlerTimeout bounds the database work done for a single client event.
const handlerTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// --- Postgres ---
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	if err := st.Migrate(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis (optional, enables rate limiting) ---
	var rdb *redis.Client
	var msgLimiter, joinLimiter *ratelimit.RuleLimiter
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		cancel()
		limiter := ratelimit.NewLimiter(rdb)
		msgLimiter = ratelimit.NewRuleLimiter(limiter, ratelimit.RuleMessage)
		joinLimiter = ratelimit.NewRuleLimiter(limiter, ratelimit.RuleJoin)
	}

	// --- NATS (optional, enables the event mirror) ---
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	log.Printf("chat server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  read_timeout:    %s", cfg.ReadTimeout)
	log.Printf("  write_timeout:   %s", cfg.WriteTimeout)
	log.Printf("  rate_limiting:   %v", msgLimiter != nil)
	log.Printf("  event_mirror:    %v", natsClient != nil)

	// --- WebSocket server ---
	wsConfig := ws.ServerConfig{
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
	}

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(wsConfig, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// --- Chat engine ---
	registry := session.NewRegistry()
	chatCfg := chat.Config{
		Registry: registry,
		Store:    st,
		Send:     server,
	}
	// Optional collaborators are only assigned when present, so the engine
	// sees a true nil interface rather than a typed-nil pointer.
	if msgLimiter != nil {
		chatCfg.Limiter = msgLimiter
		chatCfg.JoinLimiter = joinLimiter
	}
	if natsClient != nil {
		chatCfg.Events = natsClient
	}
	ctrl := chat.NewController(chatCfg)

	server.SetOnConnect(func(connID string) {
		if err := ctrl.Connect(connID); err != nil {
			log.Printf("connect rejected session=%s: %v", connID, err)
			return
		}
		resp, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
			SessionID: connID,
		})
		if err != nil {
			log.Printf("failed to build session_created for %s: %v", connID, err)
			return
		}
		if err := server.SendTo(connID, resp); err != nil {
			log.Printf("failed to send session_created to %s: %v", connID, err)
		}
	})

	server.SetOnDisconnect(func(connID string) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		ctrl.Disconnect(ctx, connID)
	})

	dispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		ctrl.Join(ctx, conn.ID, joinMsg.Username)
	})

	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		ctrl.Message(ctx, conn.ID, chatMsg.Text)
	})

	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		ctrl.SetTyping(conn.ID, typingMsg.IsTyping)
	})

	dispatcher.Register(protocol.TypePrivateMessage, func(conn *ws.Connection, msg interface{}) {
		privateMsg, ok := msg.(protocol.PrivateMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		ctrl.Private(ctx, conn.ID, privateMsg.To, privateMsg.Text)
	})

	if err := server.Start(); err != nil {
		log.Fatalf("failed to start websocket server: %v", err)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", server.HandleUpgrade)
	r.Route("/api", httpapi.New(st).RegisterRoutes)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"connections": server.Connections().Count(),
			"uptime":      time.Since(server.StartedAt()).Round(time.Second).String(),
		})
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("http listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if err := server.Shutdown(); err != nil {
		log.Printf("websocket shutdown error: %v", err)
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}
	log.Printf("shutdown complete")
}
