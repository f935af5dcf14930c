package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"speakup.dev/speaking-sprint/internal/api"
	"speakup.dev/speaking-sprint/internal/audio"
	"speakup.dev/speaking-sprint/internal/auth"
	"speakup.dev/speaking-sprint/internal/config"
	"speakup.dev/speaking-sprint/internal/core"
	"speakup.dev/speaking-sprint/internal/logging"
	"speakup.dev/speaking-sprint/internal/store"
	"speakup.dev/speaking-sprint/internal/store/postgres"
)

// repository is what a backing store must offer the server.
type repository interface {
	core.Repository
	store.ScenarioWriter
	ListScenarios(ctx context.Context) ([]store.Scenario, error)
}

func main() {
	// Command line flags for one-shot maintenance tasks
	seedFile := flag.String("seed", "", "Load scenarios from the given YAML file and exit")
	issueToken := flag.String("issue-token", "", "Print a signed bearer token for the given user id (hmac auth mode) and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	flag.Parse()

	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	logger := logging.New(cfg.Log)
	defer logger.Sync()

	if *issueToken != "" {
		if cfg.Auth.Mode != config.AuthModeHMAC {
			logger.Fatal("-issue-token requires AUTH_MODE=hmac")
		}
		token, err := auth.NewHMACVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, "").GenerateToken(*issueToken, *tokenTTL)
		if err != nil {
			logger.Fatal("failed to issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()

	repo, closeRepo, err := openRepository(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeRepo()

	// Handle scenario seeding if flag is set
	if *seedFile != "" {
		logger.Info("seeding scenarios", zap.String("file", *seedFile))
		n, err := store.SeedScenarios(ctx, repo, *seedFile)
		if err != nil {
			closeRepo()
			logger.Fatal("scenario seeding failed", zap.Error(err))
		}
		logger.Info("scenario seeding complete", zap.Int("scenarios", n))
		if missing := missingDays(ctx, repo); len(missing) > 0 {
			logger.Warn("catalogue has gaps; these days cannot be evaluated", zap.Ints("days", missing))
		}
		return
	}

	verifier := newVerifier(cfg.Auth)

	src, err := newAudioSource(cfg.Audio)
	if err != nil {
		logger.Fatal("failed to initialize audio source", zap.Error(err))
	}

	judge, err := core.NewGeminiJudge(ctx, cfg.Gemini, logger)
	if err != nil {
		logger.Fatal("failed to initialize judge", zap.Error(err))
	}
	defer judge.Close()

	evaluations := core.NewEvaluationService(repo, src, judge, logger, cfg.Scoring.Clamp)
	progress := core.NewProgressService(repo)

	apiHandler := api.NewAPIHandler(evaluations, progress, verifier, logger, api.Options{
		AudioMimeType:   cfg.Audio.MimeType,
		MaxAudioBytes:   cfg.Audio.MaxBytes,
		FeedbackURLBase: cfg.Server.FeedbackURLBase,
	})
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.Server.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout, // Judge calls can take a while
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server",
			zap.String("addr", serverAddr),
			zap.String("auth_mode", cfg.Auth.Mode),
			zap.String("store", cfg.Store.Driver),
			zap.String("result_policy", cfg.Store.ResultPolicy),
			zap.String("audio_source", cfg.Audio.Source))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	// Handlers cut off by Shutdown leave their evaluations running; the store
	// and judge stay open until those are saved.
	if err := evaluations.Drain(shutdownCtx); err != nil {
		logger.Error("in-flight evaluations abandoned", zap.Error(err))
		return
	}
	logger.Info("server exiting gracefully")
}

func openRepository(ctx context.Context, cfg config.StoreConfig) (repository, func(), error) {
	policy, err := store.ParsePolicy(cfg.ResultPolicy)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Driver {
	case config.StoreDriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool, policy), pool.Close, nil
	default:
		s, err := store.NewSQLiteStore(cfg.DatabaseURL, policy)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

func missingDays(ctx context.Context, repo repository) []int {
	scenarios, err := repo.ListScenarios(ctx)
	if err != nil {
		return nil
	}
	have := make(map[int]bool, len(scenarios))
	for _, sc := range scenarios {
		have[sc.DayNumber] = true
	}
	var missing []int
	for d := store.FirstDay; d <= store.LastDay; d++ {
		if !have[d] {
			missing = append(missing, d)
		}
	}
	return missing
}

func newVerifier(cfg config.AuthConfig) auth.IdentityVerifier {
	if cfg.Mode == config.AuthModeHMAC {
		return auth.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer, "")
	}
	return auth.NewClaimsVerifier(cfg.ProjectID)
}

// newAudioSource returns nil for inline mode: every request carries its audio.
func newAudioSource(cfg config.AudioConfig) (core.AudioSource, error) {
	switch cfg.Source {
	case config.AudioSourceMinio:
		src, err := audio.NewMinioSource(audio.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Extension: cfg.Extension,
			MimeType:  cfg.MimeType,
			MaxBytes:  cfg.MaxBytes,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.AudioSourceLocal:
		return audio.NewLocalSource(cfg.LocalDir, cfg.Extension, cfg.MimeType, cfg.MaxBytes), nil
	default:
		return nil, nil
	}
}
