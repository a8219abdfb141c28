package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Vovarama1992/finbot-ai-bridge/internal/ai"
	"github.com/Vovarama1992/finbot-ai-bridge/internal/availability"
	"github.com/Vovarama1992/finbot-ai-bridge/internal/chat"
	"github.com/Vovarama1992/finbot-ai-bridge/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Slot ---
	slot, err := chat.OpenSlot(ctx, cfg.Store.Backend, cfg.Store.Path, cfg.Store.DatabaseURL, cfg.Store.Key)
	if err != nil {
		log.Fatalf("store open error: %v", err)
	}
	defer slot.Close()

	store := chat.NewStore(slot)
	if err := store.Load(ctx, chat.DefaultConversation); err != nil {
		log.Fatalf("store load error: %v", err)
	}

	// --- AI ---
	provider := ai.FromConfig(cfg.AI)
	var (
		capability ai.Capability
		loader     availability.Loader
		label      = "FinBot AI"
	)
	if provider != nil {
		capability, loader, label = provider, provider, provider.Name()
	}

	monitor := availability.NewMonitor(loader, cfg.AI.SettleDelay)
	monitor.Start(ctx)

	// --- Chat module wiring ---
	engine := chat.NewEngine(store, capability, monitor, ai.OptionsFromConfig(cfg.AI))
	chatService := chat.NewService(store, engine, monitor, label)
	defer chatService.Close()
	chatHandler := chat.NewHandler(chatService)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	chat.RegisterRoutes(r, chatHandler)

	// --- health ---
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on :%s (ai=%s store=%s)", cfg.Port, cfg.AI.Provider, cfg.Store.Backend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
