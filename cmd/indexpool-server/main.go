package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/edirooss/indexpool-server/internal/config"
	"github.com/edirooss/indexpool-server/internal/http/handler"
	mw "github.com/edirooss/indexpool-server/internal/http/middleware"
	"github.com/edirooss/indexpool-server/internal/index/fsindex"
	"github.com/edirooss/indexpool-server/internal/pool"
	"github.com/edirooss/indexpool-server/internal/principal"
	"github.com/edirooss/indexpool-server/internal/repo"
	"github.com/edirooss/indexpool-server/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RedisAddr  string `yaml:"redis_address"`
	ServerAddr string `yaml:"server_address"`
	Port       string `yaml:"port"`

	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
	TokenSpecPath string `yaml:"token_spec_path"`

	// Pool tuning; zero values fall back to pool defaults.
	MaxSources     int   `yaml:"max_sources"`
	HandleCapacity int64 `yaml:"handle_capacity"`
	RefreshSeconds uint  `yaml:"refresh_seconds"`
}

var serverConfig *Config

func init() {
	// Handle version display
	handleVersion()
}

func main() {
	// Read env
	isDev := os.Getenv("ENV") == "dev"

	// Load config
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Create Zap logger
	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	// Create Gin router
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer() // Configure Gin's logger to use Zap
	r := gin.New()

	// Build runtime: Redis-backed catalog, filesystem index engine, handle pool
	rdb := repo.NewRedisClient(log, serverConfig.RedisAddr, 0)
	rep := repo.NewRepository(log, rdb)
	p, err := pool.New(log, fsindex.New(log), pool.Options{
		MaxSources:      serverConfig.MaxSources,
		HandleCapacity:  serverConfig.HandleCapacity,
		RefreshInterval: time.Duration(serverConfig.RefreshSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal("pool creation failed", zap.Error(err))
	}

	srcsvc, err := service.NewSourceService(context.TODO(), log, rep, p)
	if err != nil {
		log.Fatal("source service creation failed", zap.Error(err))
	}
	authsvc, err := service.NewAuthService(log, rep, isDev, serverConfig.RedisAddr, serverConfig.AdminUsername, serverConfig.AdminPassword)
	if err != nil {
		log.Fatal("auth service creation failed", zap.Error(err))
	}

	// Background sync: bearer-token spec file, index dir watches, Redis reload channel
	if err := service.StartTokenSync(context.TODO(), log, rep, serverConfig.TokenSpecPath, 0); err != nil {
		log.Fatal("token sync start failed", zap.Error(err))
	}
	if err := service.StartDirWatch(context.TODO(), log, p, 0, 0); err != nil {
		log.Fatal("dir watch start failed", zap.Error(err))
	}
	service.NewReloadService(log, rdb, p, srcsvc).Start()

	// Apply Gin middlewares
	{
		r.Use(gin.Recovery()) // Recovery first (outermost)
		r.Use(mw.RequestID()) // Attach request ID for tracing; early in the chain so it's available everywhere

		if isDev { // Enable CORS for local Vite dev
			r.Use(cors.New(cors.Config{
				AllowOrigins:     []string{"http://localhost:5173", "http://localhost:4173", "http://localhost:3000", "http://127.0.0.1:3000", "https://" + serverConfig.ServerAddr},
				AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowHeaders:     []string{"X-Request-ID", "Content-Type", "X-CSRF-Token", "Authorization"},
				ExposeHeaders:    []string{"X-Request-ID", "X-Total-Count", "X-Cache", "X-Summary-Generated-At"},
				AllowCredentials: true, // Allow cookies in dev
				MaxAge:           12 * time.Hour,
			}))
		} else { // Behind Nginx + TLS
			r.SetTrustedProxies([]string{"127.0.0.1", serverConfig.ServerAddr})
			r.Use(secure.New(secure.Config{
				SSLProxyHeaders: map[string]string{
					"X-Forwarded-Proto": "https", // Fix scheme for secure cookies
				},
			}))
		}

		r.Use(authsvc.UserSession.Middleware()) // Attach user cookie-based session for auth

		r.Use(accessLog(zap.NewNop(), authsvc)) // Observability (logger, tracing)
		// r.Use(accessLog(log, authsvc)) // Observability (logger, tracing)

		r.Use(func(c *gin.Context) {
			// Enforce a hard 10MB max request body.
			// Protects against oversized or drip-fed request body ("slow body" / RUDY DoS)
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 10<<20)
			c.Next()
		})
	}

	// Register route handlers
	{
		// --- Public endpoints (no auth) ---
		{
			r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

			{
				loginhndlr := handler.NewLoginHandler(log, authsvc)
				r.POST("/api/login", loginhndlr.Login)
				r.POST("/api/logout", loginhndlr.Logout)
			}
		}

		// --- Protected endpoints (auth required) ---
		{
			// Any authenticated principal (admin|service_account).
			// CSRF middleware self-filters: mutating methods with a session credential only.
			authed := r.Group("", mw.Authentication(authsvc), mw.ValidateSessionCSRF)
			authed.GET("/api/me", handler.Me)
			authed.GET("/api/auth/csrf", handler.IssueSessionCSRF)

			srcshndlr := handler.NewSourcesHandler(log, srcsvc, rep, p)
			requireValidID := mw.RequireValidSourceID()

			readers := authed.Group("", mw.Authorization(principal.Admin, principal.ServiceAccount))
			{
				// --- Source collection (read) ---
				readers.GET("/api/sources", srcshndlr.GetSourceList) // get list, get many

				// --- Source resource (read) ---
				readers.GET("/api/sources/:id", requireValidID, srcshndlr.GetSource)                                        // get one
				readers.GET("/api/sources/:id/stat", requireValidID, mw.LimitConcurrentRequests(16), srcshndlr.StatSource)  // get one (live handle stats)
				readers.POST("/api/sources/:id/refresh", requireValidID, srcshndlr.RefreshSource)                           // nudge staleness probe

				// --- Pool views ---
				readers.GET("/api/pool/summary", srcshndlr.Summary)
			}

			admins := authed.Group("", mw.Authorization(principal.Admin)) // only admins
			{
				// --- Source collection (write) ---
				admins.POST("/api/sources", srcshndlr.CreateSource) // create one

				// --- Source resource (write) ---
				admins.PUT("/api/sources/:id", requireValidID, srcshndlr.ReplaceSource)    // update one (replace/full-update)
				admins.PATCH("/api/sources/:id", requireValidID, srcshndlr.ModifySource)   // update one (modify/partial-update)
				admins.DELETE("/api/sources/:id", requireValidID, srcshndlr.DeleteSource)  // delete one
			}
		}
	}

	httpsrv := &http.Server{
		Addr:              serverConfig.ServerAddr + ":" + serverConfig.Port,
		Handler:           r,
		ReadHeaderTimeout: 2 * time.Second,  // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second, // full request read (incl. body)
		WriteTimeout:      15 * time.Second, // avoid forever-hangs on writes
		IdleTimeout:       60 * time.Second, // keep-alive cap
		MaxHeaderBytes:    1 << 20,          // 1MB cap
	}

	log.Info("running HTTP server", zap.String("addr", httpsrv.Addr))
	if err := httpsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server closed")
}

// handleVersion prints build metadata and exits when -v/--version is provided.
func handleVersion() {
	v := flag.Bool("v", false, "print version and exit")
	flag.BoolVar(v, "version", false, "print version and exit")
	flag.Parse()

	if *v {
		fmt.Printf("indexpool %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		os.Exit(0)
	}
}

// accessLog is a Gin middleware that records HTTP request/response details with Zap after handling.
func accessLog(log *zap.Logger, authsvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		// collect all errors from Gin context
		var errs []error
		for _, ge := range c.Errors {
			if ge.Err != nil {
				errs = append(errs, ge.Err)
			}
		}
		// errors.Join returns nil if errs is empty
		joinedErr := errors.Join(errs...)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Duration("latency", latency),
		}
		if p := authsvc.WhoAmI(c); p != nil {
			fields = append(fields, zap.Dict("auth",
				zap.String("id", p.ID),
				zap.String("kind", p.PrincipalType.String()),
			))
		}
		if joinedErr != nil {
			fields = append(fields, zap.Error(joinedErr))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// helpers

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}

func loadConfig() error {
	data, err := os.ReadFile("indexpool-server.yaml")
	if err != nil {
		return err
	}

	err = yaml.Unmarshal(data, &serverConfig)
	if err != nil {
		return err
	}

	return nil
}
