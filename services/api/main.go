// Сервис API: REST + WebSocket поверх Postgres; живые обновления через
// LISTEN/NOTIFY, вложения в локальном хранилище или Cloudinary.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/campushub/internal/changefeed"
	"github.com/campushub/internal/config"
	"github.com/campushub/internal/enrich"
	"github.com/campushub/internal/feed"
	"github.com/campushub/internal/handler"
	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/middleware"
	"github.com/campushub/internal/objstore"
	cloudinarystore "github.com/campushub/internal/objstore/cloudinary"
	localstore "github.com/campushub/internal/objstore/local"
	"github.com/campushub/internal/push"
	"github.com/campushub/internal/reactions"
	"github.com/campushub/internal/repository"
	"github.com/campushub/internal/startup"
	"github.com/campushub/internal/storage"
	memorystorage "github.com/campushub/internal/storage/memory"
	"github.com/campushub/internal/ws"
	"github.com/campushub/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB/Redis required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	// Отметки прочитанности уведомлений: Redis, в -dev — память процесса.
	var marks storage.NotifyStateStore
	if *dev {
		marks = memorystorage.New()
	} else {
		marks = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	}
	defer marks.Close()

	userRepo := repository.NewUserRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	directRepo := repository.NewDirectMessageRepository(pool)
	attachRepo := repository.NewAttachmentRepository(pool)
	linkRepo := repository.NewLinkRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	threadRepo := repository.NewThreadRepository(pool)

	objects, err := buildObjStore(cfg)
	if err != nil {
		logger.Errorf("objstore: %v", err)
		os.Exit(1)
	}

	listener := changefeed.NewPGListener(cfg.DatabaseURL())
	feedCtx, feedCancel := context.WithCancel(context.Background())
	var feedWg sync.WaitGroup
	feedWg.Add(1)
	go func() {
		defer feedWg.Done()
		listener.Run(feedCtx)
	}()

	enricher := enrich.NewWorker(attachRepo, linkRepo, enrich.NewUnfurler())
	roomReader := feed.NewReader(msgRepo, attachRepo, linkRepo, reactRepo, threadRepo, objects)
	convReader := feed.NewReader(directRepo, attachRepo, linkRepo, reactRepo, threadRepo, objects)
	reactSvc := reactions.NewService(reactRepo)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(ws.Deps{
		Feed:         listener,
		RoomReader:   roomReader,
		ConvReader:   convReader,
		Enricher:     enricher,
		Rooms:        roomRepo,
		Convs:        convRepo,
		Threads:      threadRepo,
		ThreadReacts: reactRepo,
		Reactions:    reactSvc,
		Users:        userRepo,
		Marks:        marks,
	}, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	// Ночные чистки: просроченные надгробия, зависшие превью ссылок и
	// разъехавшиеся счётчики тредов.
	maintRepo := repository.NewMaintenanceRepository(pool)
	sched := cron.New()
	_, err = sched.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := maintRepo.PurgeTombstones(ctx, 90*24*time.Hour); err != nil {
			logger.Errorf("purge tombstones: %v", err)
		} else if n > 0 {
			logger.Infof("purged %d tombstones", n)
		}
		if n, err := maintRepo.PurgeStalePending(ctx, 7*24*time.Hour); err != nil {
			logger.Errorf("purge stale previews: %v", err)
		} else if n > 0 {
			logger.Infof("purged %d stale link previews", n)
		}
		if n, err := maintRepo.ReconcileReplyCounts(ctx); err != nil {
			logger.Errorf("reconcile reply counts: %v", err)
		} else if n > 0 {
			logger.Infof("reconciled reply_count on %d threads", n)
		}
	})
	if err != nil {
		logger.Errorf("schedule maintenance: %v", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	roomH := handler.NewRoomHandler(roomRepo, userRepo, msgRepo)
	convH := handler.NewConversationHandler(convRepo, userRepo)
	msgH := handler.NewMessageHandler(roomReader, convReader, roomRepo, convRepo, threadRepo)
	uploadH := handler.NewUploadHandler(objects, cfg.MaxUploadSize)
	pushH := handler.NewPushHandler(push.NewClient(cfg.PushServiceURL))
	configH := handler.NewConfigHandler(cfg)
	wsH := handler.NewWSHandler(hub, userRepo, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", configH.GetPushConfig)
	if local, ok := objects.(*localstore.Store); ok {
		fileH := handler.NewFileServer(local)
		r.Get("/api/files/{ref}", fileH.Serve)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthServiceValidate(cfg.AuthServiceURL, nil))
		r.Get("/api/rooms", roomH.GetUserRooms)
		r.Post("/api/rooms", roomH.Create)
		r.Get("/api/rooms/{id}", roomH.Get)
		r.Post("/api/rooms/{id}/join", roomH.Join)
		r.Post("/api/rooms/{id}/leave", roomH.Leave)
		r.Get("/api/rooms/{id}/members", roomH.GetMembers)
		r.Get("/api/rooms/{id}/messages", msgH.GetRoomMessages)
		r.Get("/api/conversations", convH.List)
		r.Post("/api/conversations", convH.Open)
		r.Get("/api/conversations/{id}", convH.Get)
		r.Get("/api/conversations/{id}/messages", msgH.GetConversationMessages)
		r.Get("/api/messages/{messageId}/thread", msgH.GetThread)
		r.Post("/api/files/upload", uploadH.Upload)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
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
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	feedCancel()
	feedWg.Wait()
	logger.Info("change feed listener stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func buildObjStore(cfg *config.Config) (objstore.Store, error) {
	switch cfg.ObjStore.Kind {
	case "cloudinary":
		if cfg.ObjStore.CloudinaryURL == "" {
			return nil, fmt.Errorf("objstore kind cloudinary requires CLOUDINARY_URL")
		}
		return cloudinarystore.New(cfg.ObjStore.CloudinaryURL, cfg.ObjStore.CloudinaryFolder)
	case "local", "":
		if err := os.MkdirAll(cfg.ObjStore.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
		return localstore.New(cfg.ObjStore.Dir, cfg.ObjStore.PublicURL), nil
	}
	return nil, fmt.Errorf("unknown objstore kind %q", cfg.ObjStore.Kind)
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	for _, name := range names {
		data, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "campushub"
		password = "campushub_secret"
		database = "campushub"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
