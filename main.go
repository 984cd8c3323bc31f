package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"huddle/internal/api"
	"huddle/internal/auth"
	"huddle/internal/chat"
	"huddle/internal/commands"
	"huddle/internal/config"
	"huddle/internal/filestore"
	"huddle/internal/http"
	"huddle/internal/live"
	"huddle/internal/notify"
	"huddle/internal/presence"
	"huddle/internal/session"
	"huddle/internal/storage"
	"huddle/internal/timelog"
	"huddle/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Email of a user to create via the running server's admin API")
	userName := flag.String("user-name", "", "Display name for -add-user (defaults to the email)")
	password := flag.String("password", "", "Password for -add-user")
	flag.Parse()

	cfg, err := config.Load(*addUser != "")
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, *userName, *password, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}, bbStorage)
	if err != nil {
		return err
	}

	liveStore := live.NewStore()
	tracker := presence.NewTracker(liveStore)

	chats := chat.NewService(bbStorage, liveStore)
	if cfg.VAPIDPrivateKey != "" {
		chats.SetNotifier(notify.NewPusher(notify.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.PushContact,
			BaseURL:         cfg.BaseURL,
		}, bbStorage, tracker))
	}

	timelogService := timelog.NewService(bbStorage, tracker)

	sessions := session.NewManager(authService, bbStorage, liveStore, tracker)
	sessions.WatchRevocations(authService)
	defer sessions.Close()

	hub := ws.NewHub(authService, chats, liveStore, tracker)
	defer hub.Close()
	wsServer := ws.NewServer(authService, hub, cfg.AllowedOrigins)

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	apiHandlers := api.New(authService, sessions, chats, timelogService, tracker, files, bbStorage, cfg.VAPIDPublicKey)
	adminServer := http.NewAdminServer(api.NewAdminHandler(authService, chats), cfg.AdminAddr)
	apiServer := http.NewAPIServer(apiHandlers, wsServer, cfg.APIAddr, cfg.AllowedOrigins)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
