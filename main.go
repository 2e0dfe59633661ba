package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"school-billing/internal/audit"
	"school-billing/internal/auth"
	billingapp "school-billing/internal/billing/application"
	billing "school-billing/internal/billing/domain"
	billingmemory "school-billing/internal/billing/infrastructure/memory"
	billingrepo "school-billing/internal/billing/infrastructure/postgres"
	billinginterfaces "school-billing/internal/billing/interfaces"
	"school-billing/internal/config"
	"school-billing/internal/eventing"
	eventingrepo "school-billing/internal/eventing/infrastructure/postgres"
	"school-billing/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	env := loadEnv()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	var (
		students    billing.StudentRepository
		payments    billing.PaymentRepository
		policies    billing.PolicyRepository
		auditLogger audit.Logger
		publisher   billingapp.InvoicePublisher
		db          *sql.DB
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loggingPublisher := billinginterfaces.NewLoggingPublisher(logger)
	if env.DatabaseURL != "" {
		db, err = sql.Open("pgx", env.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}

		policyRepo := billingrepo.NewPolicyRepository(db)
		if len(cfg.Policies) > 0 {
			if err := policyRepo.SavePolicies(ctx, cfg.SchoolID, cfg.Policies); err != nil {
				logger.Fatalf("seed policies error: %v", err)
			}
		}
		students = billingrepo.NewStudentRepository(db)
		payments = billingrepo.NewPaymentRepository(db)
		policies = policyRepo
		auditLogger = audit.NewRepository(db)

		outbox := eventingrepo.NewOutboxStore(db)
		dispatcher := eventing.NewDispatcher(outbox, logger)
		dispatcher.Handle(billinginterfaces.EventInvoicesGenerated, billinginterfaces.InvoicesGeneratedHandler(loggingPublisher))
		go dispatcher.Run(ctx, env.OutboxInterval)
		publisher = billinginterfaces.NewOutboxPublisher(outbox)
	} else {
		logger.Printf("DATABASE_URL not set, using in-memory storage")
		students = billingmemory.NewStudentRepository()
		payments = billingmemory.NewPaymentRepository()
		policies = billingmemory.NewPolicyRepository(cfg.Policies)
		auditLogger = audit.NewMemoryLogger()
		publisher = loggingPublisher
	}

	metrics.Init(db, logger)

	service, err := billingapp.NewService(students, payments, policies,
		billingapp.WithSchoolID(cfg.SchoolID),
		billingapp.WithDailyRate(cfg.Rate()),
		billingapp.WithLocation(cfg.Location()),
		billingapp.WithGeneratorOptions(cfg.GeneratorOptions()),
		billingapp.WithPublisher(publisher),
		billingapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("billing service error: %v", err)
	}
	billingHandler, err := billinginterfaces.NewHandler(service, auditLogger, logger)
	if err != nil {
		logger.Fatalf("billing handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(env.JWTSecret), policy)

	mux := http.NewServeMux()
	billingHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              env.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Printf("http listening on %s school=%s rate=%s tz=%s", env.HTTPAddr, cfg.SchoolID, cfg.Rate(), cfg.Location())
	logger.Fatal(server.ListenAndServe())
}

type envConfig struct {
	DatabaseURL    string
	HTTPAddr       string
	JWTSecret      string
	OutboxInterval time.Duration
}

func loadEnv() envConfig {
	cfg := envConfig{
		DatabaseURL:    config.Getenv("DATABASE_URL", config.Getenv("PG_DSN", "")),
		HTTPAddr:       config.Getenv("HTTP_ADDR", ":8080"),
		JWTSecret:      config.Getenv("AUTH_JWT_SECRET", config.Getenv("JWT_SECRET", "")),
		OutboxInterval: config.GetenvDuration("OUTBOX_DISPATCH_INTERVAL", 5*time.Second),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
