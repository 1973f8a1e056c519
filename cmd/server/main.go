package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/oems/oems/internal/config"
	"github.com/oems/oems/internal/cookies"
	"github.com/oems/oems/internal/handlers"
	"github.com/oems/oems/internal/middleware"
	"github.com/oems/oems/internal/ratelimit"
	"github.com/oems/oems/internal/repository"
	"github.com/oems/oems/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type stores struct {
	otps     repository.OTPStore
	sessions repository.SessionStore
	users    repository.UserDirectory
	closers  []io.Closer
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = initRedis(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Redis")
		}
		defer redisClient.Close()
	}

	st, err := initStores(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize stores")
	}
	defer func() {
		for _, c := range st.closers {
			_ = c.Close()
		}
	}()

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, "otp_rl")
	default:
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}

	// Initialize services
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	otpService := service.NewOTPService(st.otps, &cfg.OTP, logger)
	sessionService := service.NewSessionService(jwtService, st.sessions, st.users, logger)
	authService := service.NewAuthService(
		otpService,
		sessionService,
		st.users,
		limiter,
		service.NewLogSMSSender(logger, cfg.IsDevelopment()),
		logger,
	)
	if cfg.Google.ClientID != "" {
		authService.SetIdentityVerifier(service.NewGoogleTokenInfoVerifier(cfg.Google.ClientID))
	}

	go service.NewJanitor(otpService, sessionService, cfg.CleanupInterval, logger).Run(ctx)

	cookieManager := cookies.NewManager(
		cfg.SecureCookies(),
		cfg.Cookie.Domain,
		cfg.Cookie.RefreshPath,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)

	router := handlers.NewRouter(
		handlers.NewAuthHandlers(authService, cookieManager, cfg.IsDevelopment(), logger),
		middleware.NewAuthMiddleware(authService, cookieManager, logger),
		handlers.RouterOptions{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			EnableGoogle:   cfg.Google.ClientID != "",
		},
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":    cfg.Server.Port,
			"store":   cfg.Store.Backend,
			"limiter": cfg.RateLimit.Backend,
			"env":     cfg.AppEnv,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initStores(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) (*stores, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		db, err := repository.OpenSQLite(ctx, cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &stores{
			otps:     db.OTPs(),
			sessions: db.Sessions(),
			users:    db.Users(),
			closers:  []io.Closer{db},
		}, nil

	case config.BackendDynamoDB:
		client, err := initDynamoDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if cfg.DynamoDB.Endpoint != "" {
			if err := repository.EnsureTable(ctx, client, cfg.DynamoDB.TableName, logger); err != nil {
				return nil, err
			}
		}
		return &stores{
			otps:     repository.NewOTPRepository(client, cfg.DynamoDB.TableName, logger),
			sessions: repository.NewSessionRepository(client, cfg.DynamoDB.TableName, logger),
			users:    repository.NewUserRepository(client, cfg.DynamoDB.TableName, logger),
		}, nil

	case config.BackendRedis:
		return &stores{
			otps:     repository.NewRedisOTPStore(redisClient),
			sessions: repository.NewRedisSessionStore(redisClient),
			users:    repository.NewRedisUserDirectory(redisClient, logger),
		}, nil

	default:
		logger.Warn("Using in-memory stores; state is lost on restart")
		return &stores{
			otps:     repository.NewMemoryOTPStore(),
			sessions: repository.NewMemorySessionStore(),
			users:    repository.NewMemoryUserDirectory(),
		}, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})
	logger.Info("DynamoDB client initialized")
	return client, nil
}
