// Сервис пуш-уведомлений (Web Push): подписки в Redis, фан-аут по ленте
// изменений Postgres, отправка через VAPID. Внутренний сервис — наружу его
// ручки проксирует API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/changefeed"
	"github.com/campushub/internal/config"
	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/push"
	"github.com/campushub/internal/repository"
	"github.com/campushub/internal/startup"
)

func main() {
	logger.SetPrefix("push")
	genVAPID := flag.Bool("gen-vapid", false, "generate VAPID keys and exit")
	flag.Parse()

	if *genVAPID {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate vapid: %v", err)
			os.Exit(1)
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	logger.Info("starting push service")
	cfg := config.Load()
	serverAddr := envStr("PUSH_SERVER_ADDR", ":8082")
	subscriber := envStr("VAPID_SUBSCRIBER", "mailto:admin@campushub.local")

	keys := loadVAPIDKeys()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = 8
	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "push: ")
	defer pool.Close()

	rds := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "push: ")
	defer rds.Close()

	userRepo := repository.NewUserRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	convRepo := repository.NewConversationRepository(pool)

	subs := push.NewRedisSubscriptions(rds.Underlying())
	transport := push.NewWebPush(subscriber, keys.PublicKey, keys.PrivateKey)

	listener := changefeed.NewPGListener(cfg.DatabaseURL())
	fanout := push.NewFanout(listener,
		roomRepo.MemberIDs, convRepo.ParticipantIDs,
		userRepo.DisplayName, subs, transport)

	runCtx, runCancel := context.WithCancel(context.Background())
	var runWg sync.WaitGroup
	runWg.Add(2)
	go func() {
		defer runWg.Done()
		listener.Run(runCtx)
	}()
	go func() {
		defer runWg.Done()
		fanout.Run(runCtx)
	}()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/vapid-public", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"public_key": keys.PublicKey})
	})
	r.Post("/api/subscribe", func(w http.ResponseWriter, r *http.Request) {
		var req push.SubscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if req.Subscription.Endpoint == "" || req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "subscription.endpoint and subscription.keys required"})
			return
		}
		if err := subs.Add(r.Context(), req.UserID, req.Subscription); err != nil {
			logger.Errorf("subscribe %s: %v", req.UserID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to subscribe"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/api/subscribe", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID   string `json:"user_id"`
			Endpoint string `json:"endpoint"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Endpoint == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and endpoint required"})
			return
		}
		if err := subs.Remove(r.Context(), req.UserID, req.Endpoint); err != nil {
			logger.Errorf("unsubscribe %s: %v", req.UserID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to unsubscribe"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("push service listening on %s", serverAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	runCancel()
	runWg.Wait()
	logger.Info("push service stopped")
}

// loadVAPIDKeys берёт ключи из окружения либо из файла (с генерацией при первом запуске).
func loadVAPIDKeys() *push.VAPIDKeys {
	pub := os.Getenv("VAPID_PUBLIC_KEY")
	priv := os.Getenv("VAPID_PRIVATE_KEY")
	if pub != "" && priv != "" {
		return &push.VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	}
	keys, err := push.EnsureVAPIDKeys("")
	if err != nil {
		logger.Errorf("vapid keys: %v", err)
		os.Exit(1)
	}
	return keys
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
