package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	billingapp "school-billing/internal/billing/application"
	billingrepo "school-billing/internal/billing/infrastructure/postgres"
	billinginterfaces "school-billing/internal/billing/interfaces"
	"school-billing/internal/config"
	eventingrepo "school-billing/internal/eventing/infrastructure/postgres"
	"school-billing/internal/observability/metrics"
	reminderapp "school-billing/internal/reminders/application"
	reminderrepo "school-billing/internal/reminders/infrastructure/postgres"
	"school-billing/internal/reminders/notify"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type options struct {
	dbURL       string
	once        bool
	dryRun      bool
	metricsAddr string
	timeout     time.Duration
}

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	opts := parseFlags()
	if err := run(opts, logger); err != nil {
		logger.Fatalf("reminderd: %v", err)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.dbURL, "db", config.Getenv("DATABASE_URL", config.Getenv("PG_DSN", "")), "postgres dsn")
	flag.BoolVar(&opts.once, "once", false, "run a single pass and exit")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "log reminders instead of sending them")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", config.Getenv("REMINDER_METRICS_ADDR", ""), "address for /metrics, empty disables it")
	flag.DurationVar(&opts.timeout, "timeout", config.GetenvDuration("REMINDER_WEBHOOK_TIMEOUT", 10*time.Second), "webhook request timeout")
	flag.Parse()
	return opts
}

func run(opts options, logger *log.Logger) error {
	if opts.dbURL == "" {
		return errors.New("DATABASE_URL or PG_DSN is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", opts.dbURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	metrics.Init(db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policies := billingrepo.NewPolicyRepository(db)
	if len(cfg.Policies) > 0 {
		if err := policies.SavePolicies(ctx, cfg.SchoolID, cfg.Policies); err != nil {
			return fmt.Errorf("seed policies: %w", err)
		}
	}
	service, err := billingapp.NewService(billingrepo.NewStudentRepository(db), billingrepo.NewPaymentRepository(db), policies,
		billingapp.WithSchoolID(cfg.SchoolID),
		billingapp.WithDailyRate(cfg.Rate()),
		billingapp.WithLocation(cfg.Location()),
		billingapp.WithGeneratorOptions(cfg.GeneratorOptions()),
		billingapp.WithPublisher(billinginterfaces.NewOutboxPublisher(eventingrepo.NewOutboxStore(db))),
		billingapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	tpl, err := notify.NewTemplate(cfg.Reminders.Template)
	if err != nil {
		return fmt.Errorf("reminder template: %w", err)
	}
	var sender reminderapp.Sender
	switch {
	case opts.dryRun:
		sender = notify.LogChannel{Logf: logger.Printf}
	case cfg.Reminders.WebhookURL != "":
		channel, err := notify.NewWebhookChannel(cfg.Reminders.WebhookURL,
			notify.WithToken(cfg.Reminders.WebhookToken),
			notify.WithTimeout(opts.timeout),
		)
		if err != nil {
			return err
		}
		sender = channel
	default:
		return errors.New("reminders.webhook_url (REMINDER_WEBHOOK_URL) is required unless -dry-run is set")
	}

	runner, err := reminderapp.NewRunner(service, reminderrepo.NewSentLog(db), tpl, sender, cfg.SchoolID,
		reminderapp.WithDaysBefore(cfg.Reminders.RemindDaysBefore),
		reminderapp.WithInvoiceGeneration(cfg.Reminders.GenerateOnRun()),
		reminderapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if opts.once {
		_, err := runner.Run(ctx)
		return err
	}

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics server error: %v", err)
			}
		}()
		defer server.Close()
	}

	logger.Printf("reminderd scheduled: school=%s daily_at=%s tz=%s days_before=%d",
		cfg.SchoolID, cfg.Reminders.DailyAt, cfg.Location(), cfg.Reminders.RemindDaysBefore)
	reminderapp.NewScheduler(runner, cfg.Reminders.DailyAt, cfg.Location(), logger).Start(ctx)
	return nil
}
