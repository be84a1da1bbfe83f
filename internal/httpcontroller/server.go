// server.go: Echo HTTP server hosting the REST API and websocket endpoints
package httpcontroller

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/classtrack/classtrack-go/internal/conf"
	"github.com/classtrack/classtrack-go/internal/datastore"
	"github.com/classtrack/classtrack-go/internal/logging"
	"github.com/classtrack/classtrack-go/internal/mailer"
	"github.com/classtrack/classtrack-go/internal/recognition"
)

// Server encapsulates the Echo server and its collaborators.
type Server struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Settings *conf.Settings
	Engine   *recognition.Engine
	Hub      *Hub
	Mailer   *mailer.Mailer

	logger *slog.Logger
}

// New initializes the HTTP server with the given datastore and engine.
func New(settings *conf.Settings, ds datastore.Interface, engine *recognition.Engine, reportMailer *mailer.Mailer) *Server {
	s := &Server{
		Echo:     echo.New(),
		DS:       ds,
		Settings: settings,
		Engine:   engine,
		Hub:      NewHub(),
		Mailer:   reportMailer,
		logger:   logging.ForService("http"),
	}

	s.Echo.HideBanner = true
	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.CORS())

	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	api := s.Echo.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/courses", s.handleListCourses)
	api.POST("/students", s.handleCreateStudent)
	api.POST("/students/:id/face", s.handleRegisterFace)
	api.GET("/courses/:id/gradebook", s.handleGradebook)
	api.PATCH("/courses/:id/students/:sid/grades", s.handleUpdateGrades)
	api.GET("/debug/courses/:id/embedding-count", s.handleEmbeddingCount)
	api.POST("/debug/flush-embeddings", s.handleFlushEmbeddings)

	api.POST("/sessions/start", s.handleStartSession)
	api.GET("/sessions/:id/attendance", s.handleSessionAttendance)
	api.PATCH("/sessions/:id/students/:sid/attendance", s.handleManualAttendance)
	api.POST("/sessions/:id/finalize-send-emails", s.handleFinalizeSession)

	s.Echo.GET("/ws/dashboard/:sessionID", s.handleDashboardSocket)
	s.Echo.GET("/ws/camera/:sessionID", s.handleCameraSocket)
}

// Start begins serving HTTP requests. Blocks until the listener fails.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.Settings.HTTP.Host, strconv.Itoa(s.Settings.HTTP.Port))
	s.logger.Info("starting HTTP server", "addr", addr)

	err := s.Echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.Echo.Shutdown(shutdownCtx)
}
