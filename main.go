package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/fitcoach/coachchat/internal/api"
	"github.com/fitcoach/coachchat/internal/auth"
	"github.com/fitcoach/coachchat/internal/chat"
	"github.com/fitcoach/coachchat/internal/config"
	"github.com/fitcoach/coachchat/internal/logging"
	"github.com/fitcoach/coachchat/internal/realtime"
	"github.com/fitcoach/coachchat/store/conversation"
	"github.com/fitcoach/coachchat/store/memory"
	"github.com/fitcoach/coachchat/store/message"
	"github.com/fitcoach/coachchat/store/migrate"
	"github.com/fitcoach/coachchat/store/user"
)

var addr = flag.String("addr", "", "http service address (overrides ADDR)")

const shutdownTimeout = 10 * time.Second

type stores struct {
	conversations conversation.Store
	messages      message.Store
	users         user.Store
	close         func() error
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warn("Error closing store", "error", err)
		}
	}()

	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	registry := realtime.NewRegistry(log)
	directory := chat.NewDirectory(st.conversations, log)
	router := chat.NewRouter(directory, st.messages, registry, chat.Options{
		VerifyMembership: cfg.VerifyMembership,
		PersistTimeout:   cfg.PersistTimeout,
	}, log)

	r := mux.NewRouter()
	api.NewHandler(directory, st.messages, st.users, log).Register(r, authn)
	r.Handle("/ws", realtime.NewHandler(authn, registry, router, realtime.HandlerConfig{
		Conn: realtime.ConnOptions{
			SendBuffer:      cfg.SendBufferSize,
			WriteWait:       cfg.WriteWait,
			PongWait:        cfg.PongWait,
			MaxMessageBytes: cfg.MaxMessageBytes,
		},
		AllowedOrigins: cfg.AllowedOrigins,
	}, log)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", cfg.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down", "online_users", len(registry.Online()))
	registry.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStores(cfg *config.Config, log *slog.Logger) (*stores, error) {
	if cfg.StoreDriver == config.DriverMemory {
		mem := memory.New()
		if cfg.SeedUsersFile != "" {
			if err := seedUsers(mem, cfg.SeedUsersFile); err != nil {
				return nil, err
			}
		}
		log.Warn("Using in-memory store, data is lost on restart", "store", mem.String())
		return &stores{
			conversations: mem.Conversations(),
			messages:      mem.Messages(),
			users:         mem.Users(),
			close:         func() error { return nil },
		}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		if cfg.RunMigrations {
			_ = db.Close()
			return nil, fmt.Errorf("database unreachable: %w", err)
		}
		log.Warn("Database unreachable", "error", err)
	} else {
		log.Info("Connected to database")
	}

	if cfg.RunMigrations {
		if err := migrate.Up(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &stores{
		conversations: conversation.NewSQLStore(db),
		messages:      message.NewSQLStore(db),
		users:         user.NewSQLStore(db),
		close:         db.Close,
	}, nil
}

func seedUsers(mem *memory.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed users: %w", err)
	}
	var users []user.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return fmt.Errorf("parse seed users: %w", err)
	}
	for _, u := range users {
		mem.PutUser(u)
	}
	return nil
}
