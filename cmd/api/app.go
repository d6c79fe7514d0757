package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"estateflow/agent"
	"estateflow/config"
	"estateflow/logger"
	"estateflow/notification"
	"estateflow/property"
	"estateflow/storage"
	"estateflow/user"
)

// App holds the wired services.
type App struct {
	Users         *user.Service
	Agents        *agent.Service
	Properties    *property.Service
	Notifications *notification.Service
}

// directory exposes the user repository as the lookup the services share.
type directory struct {
	repo user.Repository
}

func (d directory) GetByID(ctx context.Context, userID string) (user.User, error) {
	return d.repo.GetUserByID(ctx, userID)
}

func newApp(cfg *config.Config, pool *pgxpool.Pool, uploader storage.Uploader, deliverer notification.Deliverer, log logger.Logger) *App {
	userRepo := user.NewRepository(pool)
	dir := directory{repo: userRepo}

	notifications := notification.NewService(notification.NewRepository(pool), dir, deliverer, log.WithFields(map[string]interface{}{"component": "notification"})).
		WithDeliveryTimeout(cfg.Notifications.DeliveryTimeout)

	return &App{
		Users: user.NewService(userRepo, notifications, log.WithFields(map[string]interface{}{"component": "user"}), cfg.Auth.JWTSecret).
			WithTokenTTL(cfg.Auth.TokenTTL),
		Agents:        agent.NewService(agent.NewRepository(pool), dir, notifications, log.WithFields(map[string]interface{}{"component": "agent"})),
		Properties:    property.NewService(property.NewRepository(pool), uploader, dir, notifications, log.WithFields(map[string]interface{}{"component": "property"})),
		Notifications: notifications,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// newOpsHandler serves Prometheus metrics and a database-backed health check.
func newOpsHandler(db pinger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
