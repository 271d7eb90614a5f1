package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabdraft-server/internal/config"
	"collabdraft-server/internal/handler"
	"collabdraft-server/internal/middleware"
	"collabdraft-server/internal/repository"
	"collabdraft-server/internal/service"
	"collabdraft-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}
	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	changeRepo := repository.NewChangeRepository(client, cfg.Database.Name)
	commentRepo := repository.NewCommentRepository(client, cfg.Database.Name)

	instanceID := uuid.New().String()
	wsManager := websocket.NewManager(
		instanceID,
		cfg.WebSocket.MaxConnPerDoc,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		relay := websocket.NewRelay(rdb, wsManager)
		if err := relay.Ping(ctx); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		wsManager.SetRelay(relay)
		go relay.Run(ctx)
		log.Printf("Redis relay enabled (%s)", cfg.Redis.Addr)
	}

	go wsManager.Run()

	conflictService := service.NewConflictService(cfg.Collab.ConflictWindow, cfg.Collab.ManualFallback, wsManager)
	lockService := service.NewLockService(cfg.Collab.LockLease)
	persistService := service.NewPersistService(changeRepo, cfg.Collab.FlushInterval)
	commentService := service.NewCommentService(commentRepo, wsManager)
	sessionService := service.NewSessionService(wsManager, conflictService, lockService, persistService, commentService)

	wsManager.SetEventHandler(sessionService)

	go persistService.Run(ctx)
	go sessionService.Run(ctx, cfg.Collab.LockSweepInterval)

	sessionHandler := handler.NewSessionHandler(sessionService)
	commentHandler := handler.NewCommentHandler(sessionService, commentService)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret)
	tokenHandler := handler.NewTokenHandler(cfg.JWT.Secret, cfg.JWT.Expiration)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	if cfg.Server.Env != "production" {
		api.HandleFunc("/tokens", tokenHandler.Issue).Methods("POST", "OPTIONS")
	}

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/sessions/join", sessionHandler.Join).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/leave", sessionHandler.Leave).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/changes", sessionHandler.SubmitChange).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/cursor", sessionHandler.UpdateCursor).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/selection", sessionHandler.UpdateSelection).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/locks", sessionHandler.AcquireLock).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/locks/{lockId}", sessionHandler.ReleaseLock).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/conflicts/{pendingId}/resolve", sessionHandler.ResolveConflict).Methods("POST", "OPTIONS")

	protected.HandleFunc("/sessions/{id}/comments", commentHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/comments", commentHandler.Add).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/comments/{commentId}/replies", commentHandler.Reply).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/comments/{commentId}/reactions", commentHandler.React).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sessions/{id}/comments/{commentId}/resolve", commentHandler.Resolve).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting CollabDraft Server on %s (env: %s, instance: %s)", addr, cfg.Server.Env, instanceID)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Stop background loops, then flush whatever is still buffered.
	cancel()
	sessionService.Shutdown(shutdownCtx)

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"collabdraft-server"}`))
}
