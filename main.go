package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/patrickmn/go-cache"
	"github.com/username/sellerhub/src/analytics"
	"github.com/username/sellerhub/src/config"
	"github.com/username/sellerhub/src/database"
	"github.com/username/sellerhub/src/handlers"
	"github.com/username/sellerhub/src/ingest"
	"github.com/username/sellerhub/src/logger"
	"github.com/username/sellerhub/src/services"
	"github.com/username/sellerhub/src/store"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Seller Hub backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	db := database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing report cache...")
	reportCache := cache.New(config.Cfg.ReportCacheExpiry, config.Cfg.ReportCacheCleanup)

	logger.L.Info("Initializing services and handlers...")
	normalizer := ingest.NewCSVNormalizer()
	factStore := store.NewSQLiteFactStore(db)
	aggregator := analytics.NewAggregator()

	salesService := services.NewSalesService(normalizer, factStore, aggregator, reportCache)

	uploadHandler := handlers.NewUploadHandler(salesService)
	analyticsHandler := handlers.NewAnalyticsHandler(salesService)

	logger.L.Info("Configuring routes...")
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{config.Cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Authorization", "If-None-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(rateLimitMiddleware)

	r.Route("/api/sellers/{sellerID}", func(r chi.Router) {
		r.Post("/uploads", uploadHandler.HandleUpload)
		r.Get("/summary", analyticsHandler.HandleGetSummary)
		r.Get("/sales-over-time", analyticsHandler.HandleGetSalesOverTime)
		r.Get("/category-breakdown", analyticsHandler.HandleGetCategoryBreakdown)
		r.Get("/top-items", analyticsHandler.HandleGetTopItems)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Seller Hub backend is running"})
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
