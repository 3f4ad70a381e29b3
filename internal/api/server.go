package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/game"
	intnet "github.com/warhost-project/warhost/internal/network"
	"github.com/warhost-project/warhost/internal/server"
	"github.com/warhost-project/warhost/internal/util"
)

// Games is the read side of the host.
type Games interface {
	Games() []game.Snapshot
	Game(hostCounter uint32) (game.Snapshot, bool)
	Summary() server.Summary
}

// Controller is the control side of the host.
type Controller interface {
	CreateGame(ctx context.Context, req server.CreateRequest) (uint32, error)
	Unhost(ctx context.Context, hostCounter uint32) error
	Command(ctx context.Context, hostCounter uint32, text string) error
	Say(ctx context.Context, hostCounter uint32, message string) error
}

// Deps are the components the API serves.
type Deps struct {
	Games   Games
	Control Controller
	Store   *db.Store
	Lag     *server.LagMonitor
	Version string
}

// Server is the REST API server.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	deps     Deps

	httpServer *http.Server
	router     *gin.Engine
	addr       net.Addr
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, deps Deps) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		deps:     deps,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() net.Addr { return s.addr }

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.API
	addr := net.JoinHostPort(apiCfg.BindAddress, fmt.Sprint(apiCfg.Port))
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig(false)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	s.addr = ln.Addr()

	if apiCfg.TLSEnabled {
		certFile, keyFile := s.tlsFiles()
		if err := util.EnsureSelfSignedCert(certFile, keyFile, s.cfg.GetHost().Name); err != nil {
			ln.Close()
			return err
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	log.Info().Str("addr", s.addr.String()).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) tlsFiles() (string, string) {
	certFile, keyFile := s.cfg.API.TLSCertFile, s.cfg.API.TLSKeyFile
	dir := filepath.Dir(s.cfg.Database.Path)
	if certFile == "" {
		certFile = filepath.Join(dir, "api.crt")
	}
	if keyFile == "" {
		keyFile = filepath.Join(dir, "api.key")
	}
	return certFile, keyFile
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.API.RateLimitRPS).Middleware())

	public := router.Group("/api")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
		public.GET("/games", s.handleGames)
		public.GET("/games/:hc", s.handleGame)
		public.GET("/players", s.handlePlayers)
		public.GET("/lag", s.handleLag)
		public.GET("/history", s.handleHistory)
		public.GET("/stats/:name", s.handleStats)
	}

	control := router.Group("/api/control")
	control.Use(RequireToken(s.cfg.API.Token))
	{
		control.POST("/games", s.handleCreateGame)
		control.DELETE("/games/:hc", s.handleUnhost)
		control.POST("/games/:hc/command", s.handleCommand)
		control.POST("/say", s.handleSay)

		control.GET("/bans", s.handleGetBans)
		control.POST("/bans", s.handleAddBan)
		control.DELETE("/bans", s.handleRemoveBan)

		control.GET("/config", s.handleGetConfig)
		control.PUT("/config/game", s.handleSetGameField)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "warhost API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
