package server

import (
	"context"
	"net/http"

	"pow-node/logging"
	"pow-node/pow"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server hosts the PoW control endpoints and the websocket transport
// the coordinator attaches to.
type Server struct {
	e            *echo.Echo
	phaseTracker *pow.PhaseTracker

	generationQueue   chan pow.ProofBatch
	validationQueue   chan pow.ProofBatch
	inValidationQueue chan pow.ProofBatch

	wsOut     <-chan pow.BatchMessage
	wsAck     chan<- pow.AckMessage
	connState *pow.ConnState

	// stopFn cancels the Sender's context; wired by main.
	stopFn func()
}

func NewServer(
	phaseTracker *pow.PhaseTracker,
	generationQueue chan pow.ProofBatch,
	validationQueue chan pow.ProofBatch,
	inValidationQueue chan pow.ProofBatch,
	wsOut <-chan pow.BatchMessage,
	wsAck chan<- pow.AckMessage,
	connState *pow.ConnState,
	stopFn func(),
) *Server {
	e := echo.New()
	e.HideBanner = true

	s := &Server{
		e:                 e,
		phaseTracker:      phaseTracker,
		generationQueue:   generationQueue,
		validationQueue:   validationQueue,
		inValidationQueue: inValidationQueue,
		wsOut:             wsOut,
		wsAck:             wsAck,
		connState:         connState,
		stopFn:            stopFn,
	}

	e.Use(loggingMiddleware)

	g := e.Group("/api/v1")
	g.POST("/pow/phase/generate", s.startGenerate)
	g.POST("/pow/phase/validate", s.startValidate)
	g.POST("/pow/validate", s.postValidate)
	g.GET("/pow/status", s.getStatus)
	g.POST("/pow/stop", s.stop)
	g.GET("/pow/ws", s.handleWebSocket)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

func (s *Server) Start(addr string) {
	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			logging.Error("Server stopped", logging.Server, "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Echo returns the underlying router, used by tests to serve requests
// directly.
func (s *Server) Echo() *echo.Echo {
	return s.e
}

func loggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		logging.Info("Received request", logging.Server,
			"method", ctx.Request().Method, "path", ctx.Request().URL.Path)
		return next(ctx)
	}
}
