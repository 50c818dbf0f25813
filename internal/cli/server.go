package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pgloader "quizroom-service/internal/infra/postgres"
	redisbank "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
)

const (
	defaultBankID     = "general-1"
	defaultPassphrase = "letmein"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks())
	if pool != nil {
		loader = pgloader.NewBankLoader(pool)
	}

	bankTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var bankRepo app.BankRepository
	if redisClient != nil {
		redisTTL := config.Duration(cfg.Redis.TTL, bankTTL)
		bankRepo = redisbank.NewBankRepository(redisClient, loader, redisTTL)
	} else {
		bankRepo = memory.NewBankRepository(loader, bankTTL)
	}

	bankID := cfg.Quiz.Bank
	if bankID == "" {
		bankID = defaultBankID
	}
	bank, err := bankRepo.GetBank(ctx, bankID)
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}
	if err := bank.Validate(); err != nil {
		return err
	}

	passphrase := cfg.Admin.Passphrase
	if passphrase == "" {
		passphrase = defaultPassphrase
	}

	room := app.NewRoom(bank, app.NewRegistry(), app.RoomOptions{
		Passphrase:       passphrase,
		QuestionDuration: config.Duration(cfg.Quiz.QuestionDuration, app.DefaultQuestionDuration),
		Tick:             config.Duration(cfg.Quiz.Tick, app.DefaultTick),
	})
	room.Run()
	defer room.Stop()

	wsHandler := transport.NewWSHandler(room)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz room on :%s with bank %q (%d questions)", finalPort, bank.ID, len(bank.Questions))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleBanks provides a built-in bank so the server runs without Postgres.
func sampleBanks() map[string]domain.Bank {
	return map[string]domain.Bank{
		defaultBankID: {
			ID: defaultBankID,
			Questions: []domain.Question{
				{
					ID:      "q1",
					Prompt:  "Which planet is known as the Red Planet?",
					Options: []string{"Venus", "Mars", "Jupiter", "Mercury"},
					Correct: 1,
				},
				{
					ID:      "q2",
					Prompt:  "What is the largest ocean on Earth?",
					Options: []string{"Atlantic", "Indian", "Pacific", "Arctic"},
					Correct: 2,
				},
				{
					ID:      "q3",
					Prompt:  "Which element has the chemical symbol O?",
					Options: []string{"Gold", "Oxygen", "Osmium", "Silver"},
					Correct: 1,
				},
				{
					ID:      "q4",
					Prompt:  "In which year did the first moon landing take place?",
					Options: []string{"1965", "1967", "1969", "1971"},
					Correct: 2,
				},
			},
		},
	}
}
