package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/httpapi"
	"github.com/suPer8Hu/gopherchat/internal/realtime"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/gopherchat/internal/store/redisstore"
	"github.com/suPer8Hu/gopherchat/internal/users"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromArgs("server", os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	gin.SetMode(cfg.Mode)

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher chat.EventPublisher
	if cfg.RabbitURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		defer p.Close()
		publisher = p
		log.Printf("message events -> queue=%s", cfg.RabbitQueue)
	}

	dir := auth.NewDirectory(cfg.JWTSecret, cfg.JWTExpiry)
	chatSvc := chat.NewService(chat.NewRepo(gdb), publisher)
	usersSvc := users.NewService(gdb, dir)

	hub := realtime.NewHub()
	registry := realtime.NewRegistry()

	var broker realtime.Broker = realtime.NewLocalBroker(hub)
	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rds.Close()
		rb := realtime.NewRedisBroker(rds, cfg.RedisChannel, hub)
		if err := rb.Start(ctx); err != nil {
			log.Fatalf("redis broker: %v", err)
		}
		broker = rb
	}

	router := realtime.NewRouter(chatSvc, chatSvc, hub, broker)
	ws := realtime.NewServer(dir, registry, hub, router, realtime.Options{
		AllowedOrigins:  cfg.FrontendURLs,
		SendBuffer:      cfg.WS.SendBuffer,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		RateBurst:       cfg.WS.RateBurst,
		RatePerSecond:   cfg.WS.RatePerSecond,
	})

	engine := httpapi.NewRouter(httpapi.Deps{
		DB:    gdb,
		Cfg:   cfg,
		Auth:  dir,
		Users: usersSvc,
		Chat:  chatSvc,
		Live:  router,
		WS:    ws,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	// hijacked sockets are not tracked by http.Server
	if err := ws.Shutdown(shutdownCtx); err != nil {
		log.Printf("websocket shutdown: %v", err)
	}
}
