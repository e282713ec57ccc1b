package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

func NewRouter(handlers *Handlers, admin *AdminHandlers, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", handlers.Health)

	// Orders
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetOrders(w, r)
		case http.MethodPost:
			handlers.CreateOrder(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/items") && r.Method == http.MethodPost:
			handlers.AddOrderItem(w, r)
		case strings.HasSuffix(path, "/status") && r.Method == http.MethodPost:
			handlers.ChangeOrderStatus(w, r)
		case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
			handlers.CancelOrder(w, r)
		case r.Method == http.MethodGet:
			handlers.GetOrder(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Products
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetProducts(w, r)
		case http.MethodPost:
			handlers.CreateProduct(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/products/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/price") && r.Method == http.MethodPost:
			handlers.ChangeProductPrice(w, r)
		case strings.HasSuffix(path, "/archive") && r.Method == http.MethodPost:
			handlers.ArchiveProduct(w, r)
		case r.Method == http.MethodPut:
			handlers.UpdateProduct(w, r)
		case r.Method == http.MethodGet:
			handlers.GetProduct(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Admin: replay jobs and snapshot retention
	if admin != nil {
		mux.HandleFunc("/admin/replay/aggregates/", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			admin.ReplayAggregate(w, r)
		})

		mux.HandleFunc("/admin/replay/projections/", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			admin.RebuildProjection(w, r)
		})

		mux.HandleFunc("/admin/jobs", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			admin.ListJobs(w, r)
		})

		mux.HandleFunc("/admin/jobs/", func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			switch {
			case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
				admin.CancelJob(w, r)
			case r.Method == http.MethodGet:
				admin.GetJob(w, r)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
		})

		mux.HandleFunc("/admin/snapshots/", func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/cleanup") || r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			admin.CleanupSnapshots(w, r)
		})
	}

	return withLogging(mux, logger)
}

func withLogging(next http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
