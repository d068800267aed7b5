package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/velopay/backend/internal/database"
	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/handlers"
	"github.com/velopay/backend/internal/messaging"
	mW "github.com/velopay/backend/internal/middleware"
	"github.com/velopay/backend/internal/services"
	"github.com/velopay/backend/internal/storage/memory"
	"github.com/velopay/backend/internal/storage/postgres"
)

type repositories struct {
	accounts    domain.AccountRepository
	sagas       domain.SagaRepository
	locks       domain.RateLockRepository
	rates       domain.RateRepository
	conversions domain.ConversionRepository
	ledger      domain.LedgerRepository
	outbox      domain.OutboxRepository
	inbox       domain.InboxRepository
	idempotency domain.IdempotencyRepository
}

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("auth.enabled", "AUTH_ENABLED")

	viper.BindEnv("saga.max_retries", "SAGA_MAX_RETRIES")
	viper.BindEnv("saga.retry_delay", "SAGA_RETRY_DELAY")
	viper.BindEnv("saga.step_timeout", "SAGA_STEP_TIMEOUT")
	viper.BindEnv("fx.lock_duration", "FX_LOCK_DURATION")
	viper.BindEnv("transfer.fee_percentage", "TRANSFER_FEE_PERCENTAGE")
	viper.BindEnv("transfer.fee_fixed", "TRANSFER_FEE_FIXED")
	viper.BindEnv("settlement.bic", "SETTLEMENT_BIC")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("saga.max_retries", 3)
	viper.SetDefault("saga.retry_delay", 200*time.Millisecond)
	viper.SetDefault("saga.step_timeout", 10*time.Second)
	viper.SetDefault("fx.lock_duration", 15*time.Minute)
	viper.SetDefault("settlement.bic", "VELOPAYX")
	viper.SetDefault("outbox.batch_size", 50)
	viper.SetDefault("outbox.max_retries", 5)
	viper.SetDefault("scheduler.dispatch_interval", time.Second)
	viper.SetDefault("scheduler.sweep_interval", time.Minute)
	viper.SetDefault("scheduler.retention_interval", time.Hour)
	viper.SetDefault("scheduler.retention_window", 7*24*time.Hour)

	// Storage: postgres when reachable, in-memory otherwise.
	var repos repositories
	db, err := database.InitDB()
	if err != nil {
		log.Printf("Database unavailable, using in-memory storage: %v", err)
		store := memory.NewStore()
		repos = repositories{
			accounts:    memory.NewAccountRepo(store),
			sagas:       memory.NewSagaRepo(store),
			locks:       memory.NewRateLockRepo(store),
			rates:       memory.NewRateRepo(store),
			conversions: memory.NewConversionRepo(store),
			ledger:      memory.NewLedgerRepo(store),
			outbox:      memory.NewOutboxRepo(store),
			inbox:       memory.NewInboxRepo(store),
			idempotency: memory.NewIdempotencyRepo(store),
		}
	} else {
		defer db.Close()
		repos = repositories{
			accounts:    postgres.NewAccountRepo(db),
			sagas:       postgres.NewSagaRepo(db),
			locks:       postgres.NewRateLockRepo(db),
			rates:       postgres.NewRateRepo(db),
			conversions: postgres.NewConversionRepo(db),
			ledger:      postgres.NewLedgerRepo(db),
			outbox:      postgres.NewOutboxRepo(db),
			inbox:       postgres.NewInboxRepo(db),
			idempotency: postgres.NewIdempotencyRepo(db),
		}
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var bus messaging.EventBus
	if redisClient != nil {
		bus = messaging.NewRedisBus(redisClient)
	} else {
		log.Println("Using in-process event bus")
		bus = messaging.NewLocalBus()
	}

	// Services
	accountService := services.NewAccountService(repos.accounts, 5)
	rateSource := seedRateSource()
	fxRateService := services.NewFXRateService([]services.RateSource{rateSource}, repos.locks, repos.rates, viper.GetDuration("fx.lock_duration"))
	fxConversionService := services.NewFXConversionService(fxRateService, repos.conversions)
	ledgerService := services.NewLedgerService(repos.ledger, repos.accounts)
	paymentService := services.NewPaymentService(repos.sagas, repos.idempotency, redisClient)

	feeAccountID, err := ensureFeeAccount(context.Background(), accountService)
	if err != nil {
		log.Fatalf("Failed to provision fee account: %v", err)
	}

	driver := services.NewSagaDriver(repos.sagas, accountService, fxRateService, fxConversionService, ledgerService, services.SagaDriverConfig{
		FeeAccountID: feeAccountID,
		MaxRetries:   viper.GetInt("saga.max_retries"),
		RetryDelay:   viper.GetDuration("saga.retry_delay"),
		StepTimeout:  viper.GetDuration("saga.step_timeout"),
		LockDuration: viper.GetDuration("fx.lock_duration"),
	})

	// Messaging
	dispatcher := messaging.NewOutboxDispatcher(repos.outbox, bus, viper.GetInt("outbox.batch_size"), viper.GetInt("outbox.max_retries"))
	consumer := messaging.NewInboxConsumer(repos.inbox, bus)

	settlementService := services.NewSettlementService(viper.GetString("settlement.bic"))
	consumer.Register(domain.EventPaymentCompleted, settlementService.HandleCompleted)
	consumer.Register(domain.EventPaymentFailed, settlementService.HandleTerminated)
	consumer.Register(domain.EventPaymentCompensated, settlementService.HandleTerminated)

	scheduler := services.NewScheduler(dispatcher, consumer, fxRateService, repos.locks, repos.outbox, repos.inbox, repos.idempotency, services.SchedulerConfig{
		DispatchInterval:  viper.GetDuration("scheduler.dispatch_interval"),
		SweepInterval:     viper.GetDuration("scheduler.sweep_interval"),
		RetentionInterval: viper.GetDuration("scheduler.retention_interval"),
		RetentionWindow:   viper.GetDuration("scheduler.retention_window"),
	})
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// Handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, driver, ledgerService)
	accountHandler := handlers.NewAccountHandler(accountService)
	fxHandler := handlers.NewFXHandler(fxRateService, fxConversionService)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if viper.GetBool("auth.enabled") {
			r.Use(mW.AuthMiddleware)
		}

		r.Post("/payments", paymentHandler.CreatePayment)
		r.Get("/payments", paymentHandler.GetByRequestID)
		r.Get("/payments/{paymentId}", paymentHandler.GetPayment)
		r.Get("/payments/{paymentId}/ledger", paymentHandler.GetPaymentLedger)
		r.Get("/accounts/{accountId}/payments", paymentHandler.ListPayments)

		r.Post("/accounts", accountHandler.OpenAccount)
		r.Get("/accounts/{accountId}", accountHandler.GetAccount)
		r.Get("/accounts/name-enquiry", accountHandler.AccountNameEnquiry)
		r.Get("/accounts/balance-enquiry", accountHandler.AccountBalanceEnquiry)
		r.Post("/accounts/{accountId}/credit", accountHandler.CreditAccount)
		r.Post("/accounts/{accountId}/currencies", accountHandler.EnableCurrency)
		r.Put("/accounts/{accountId}/suspend", accountHandler.SuspendAccount)
		r.Put("/accounts/{accountId}/activate", accountHandler.ActivateAccount)
		r.Delete("/accounts/{accountId}", accountHandler.CloseAccount)

		r.Post("/fx/locks", fxHandler.CreateRateLock)
		r.Get("/fx/locks/{lockId}", fxHandler.GetRateLock)
		r.Get("/fx/conversions/{conversionId}", fxHandler.GetConversion)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

// seedRateSource loads the configured rate table. Pairs come from
// fx.rates.<BASE>_<QUOTE> entries; a small default set keeps development
// working without config.
func seedRateSource() *services.TableRateSource {
	source := services.NewTableRateSource("table")

	defaults := map[string][2]string{
		"USD_EUR": {"0.85", "0.0008"},
		"EUR_USD": {"1.17", "0.0011"},
		"USD_GBP": {"0.74", "0.0007"},
		"GBP_USD": {"1.35", "0.0013"},
		"USD_NGN": {"1530", "1.5"},
		"USD_JPY": {"147", "0.15"},
	}
	for pair, rs := range defaults {
		key := "fx.rates." + pair
		viper.SetDefault(key+".rate", rs[0])
		viper.SetDefault(key+".spread", rs[1])

		rate, err := decimal.NewFromString(viper.GetString(key + ".rate"))
		if err != nil {
			log.Printf("Invalid rate for %s, skipping: %v", pair, err)
			continue
		}
		spread, err := decimal.NewFromString(viper.GetString(key + ".spread"))
		if err != nil {
			log.Printf("Invalid spread for %s, skipping: %v", pair, err)
			continue
		}

		base, quote := pair[:3], pair[4:]
		source.Set(base, quote, services.Quote{Rate: rate, Spread: spread, Provider: "table"})
	}
	return source
}

// ensureFeeAccount resolves the system account that collects transfer fees,
// creating it on first boot.
func ensureFeeAccount(ctx context.Context, accounts *services.AccountService) (string, error) {
	viper.SetDefault("transfer.fee_account_number", "0000000001")
	number := viper.GetString("transfer.fee_account_number")

	account, err := accounts.GetAccountByNumber(ctx, number)
	if err == nil {
		return account.ID, nil
	}

	account, err = accounts.OpenAccount(ctx, number, "System Fee Account", "fees@velopay.internal",
		[]string{"USD", "EUR", "GBP", "NGN", "JPY", "CAD", "CHF", "KWD", "BHD"})
	if err != nil {
		return "", err
	}
	log.Printf("Provisioned fee account %s (%s)", account.ID, number)
	return account.ID, nil
}
