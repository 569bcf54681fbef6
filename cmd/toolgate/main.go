package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/robertof1lho/archestra-sub001/internal/auth"
	"github.com/robertof1lho/archestra-sub001/internal/cache"
	"github.com/robertof1lho/archestra-sub001/internal/config"
	"github.com/robertof1lho/archestra-sub001/internal/conn"
	"github.com/robertof1lho/archestra-sub001/internal/gateway"
	"github.com/robertof1lho/archestra-sub001/internal/policy"
	"github.com/robertof1lho/archestra-sub001/internal/scheduler"
	"github.com/robertof1lho/archestra-sub001/internal/store"
	"github.com/robertof1lho/archestra-sub001/internal/supervisor"
	"github.com/robertof1lho/archestra-sub001/internal/trust"
)

func main() {
	configPath := flag.String("config", "gateway_config.yaml", "path to gateway config YAML")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Store (optional DB — fall back to config-seeded memory store)
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		log.Println("database connected")
		st = store.NewPostgres(pool)
	} else {
		mem := store.NewMemory()
		for name, sc := range cfg.MCPServers {
			mem.AddServer(store.ServerConfig{
				CatalogID:   sc.CatalogID,
				SecretID:    sc.SecretID,
				Name:        name,
				Kind:        conn.Kind(sc.Kind),
				URL:         sc.URL,
				Headers:     sc.Headers,
				AccessToken: sc.AccessToken,
			})
		}
		log.Printf("memory store seeded with %d servers from config (no database configured)", len(cfg.MCPServers))
		st = mem
	}

	// Supervisor for locally generated tool servers
	sup := supervisor.New()
	for _, local := range cfg.LocalServers {
		err := sup.Start(supervisor.StartParams{
			ServerID:   local.ID,
			ScriptPath: local.ScriptPath,
			Port:       local.Port,
			StatusPort: local.StatusPort,
			Env:        local.Env,
		})
		if err != nil {
			log.Printf("warn: starting local server %q: %v", local.ID, err)
			continue
		}
		log.Printf("local server started: %s (port %d)", local.ID, local.Port)
	}

	// Connection manager; the supervisor resolves sandboxed endpoints
	conns := conn.NewManager(sup)

	// Policy engine
	policyEng := policy.NewEngine(st)
	if err := policyEng.Load(ctx); err != nil {
		log.Printf("warn: failed to load tool invocation policies: %v", err)
	} else {
		log.Println("policy engine loaded")
	}

	// Trust evaluator (config-driven cache backend)
	var evaluator trust.Evaluator = trust.Static{Trusted: cfg.Trust.Trusted}
	if cfg.Cache != nil {
		var backend cache.Cache
		if cfg.Cache.Type == "redis" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.Addr,
				Password: cfg.Cache.Password,
				DB:       cfg.Cache.DB,
			})
			if err := client.Ping(ctx).Err(); err != nil {
				log.Printf("warn: redis not available, using memory cache: %v", err)
				backend = cache.NewMemoryCache()
			} else {
				log.Println("redis connected")
				backend = cache.NewRedisCache(client)
			}
		} else {
			backend = cache.NewMemoryCache()
		}
		evaluator = trust.NewCaching(evaluator, backend, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}

	// Gateway session server
	gw := gateway.NewServer(&gateway.Deps{
		Store:          st,
		Engine:         policyEng,
		Evaluator:      evaluator,
		Conns:          conns,
		Auth:           auth.NewAgentResolver(cfg.Gateway.JWTSecret),
		Name:           cfg.Gateway.Name,
		Version:        cfg.Gateway.Version,
		SessionTimeout: time.Duration(cfg.Gateway.SessionTimeoutMinutes) * time.Minute,
	})

	// Background jobs
	sched := scheduler.New()
	sched.Add(&scheduler.SessionSweepJob{Sweeper: gw}, gateway.SweepInterval)
	if cfg.Database.URL != "" {
		sched.Add(&scheduler.PolicyReloadJob{Engine: policyEng}, 30*time.Second)
	}
	sched.Start()

	// Routes
	r := chi.NewRouter()
	r.Mount("/mcp-proxy", (&supervisor.RESTHandler{Supervisor: sup}).Handler())
	r.Mount("/", gw.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("shutting down...")
		sched.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		conns.Shutdown()
		sup.Shutdown()
		cancel()
	}()

	log.Printf("gateway listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
