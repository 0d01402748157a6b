package server

import (
	"net/http"

	"pow-node/logging"
	"pow-node/pow"

	"github.com/labstack/echo/v4"
)

type statusResponse struct {
	Status             string `json:"status"`
	Phase              string `json:"phase"`
	WebsocketConnected bool   `json:"websocket_connected"`
	GenerationQueued   int    `json:"generation_queued"`
	ValidationQueued   int    `json:"validation_queued"`
	InValidationQueued int    `json:"in_validation_queued"`
}

func (s *Server) startGenerate(ctx echo.Context) error {
	if !s.phaseTracker.IsRunning() {
		return echo.NewHTTPError(http.StatusBadRequest, "PoW is not running")
	}

	s.phaseTracker.SetPhase(pow.PhaseGenerate)
	logging.Info("Switched to generate phase", logging.Server)
	return s.okStatus(ctx)
}

func (s *Server) startValidate(ctx echo.Context) error {
	if !s.phaseTracker.IsRunning() {
		return echo.NewHTTPError(http.StatusBadRequest, "PoW is not running")
	}

	s.phaseTracker.SetPhase(pow.PhaseValidate)
	logging.Info("Switched to validate phase", logging.Server)
	return s.okStatus(ctx)
}

// postValidate accepts a batch another participant submitted, to be
// validated by our compute workers. It opens an accumulator via the
// Sender's intake queue.
func (s *Server) postValidate(ctx echo.Context) error {
	if !s.phaseTracker.IsRunning() {
		return echo.NewHTTPError(http.StatusBadRequest, "PoW is not running")
	}

	var batch pow.ProofBatch
	if err := ctx.Bind(&batch); err != nil {
		logging.Error("Failed to decode request body of type ProofBatch", logging.Server, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err)
	}

	select {
	case s.inValidationQueue <- batch:
	default:
		logging.Warn("In-validation intake queue is full", logging.Server,
			"publicKey", batch.PublicKey, "blockHeight", batch.BlockHeight)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "validation intake is full")
	}

	return ctx.NoContent(http.StatusOK)
}

func (s *Server) getStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.currentStatus())
}

func (s *Server) stop(ctx echo.Context) error {
	if !s.phaseTracker.IsRunning() {
		return ctx.JSON(http.StatusOK, statusResponse{
			Status: "OK",
			Phase:  pow.PhaseIdle.String(),
		})
	}

	s.phaseTracker.Stop()
	if s.stopFn != nil {
		s.stopFn()
	}
	logging.Info("PoW pipeline stopped", logging.Server)
	return s.okStatus(ctx)
}

func (s *Server) okStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.currentStatus())
}

func (s *Server) currentStatus() statusResponse {
	return statusResponse{
		Status:             "OK",
		Phase:              s.phaseTracker.Phase().String(),
		WebsocketConnected: s.connState.IsConnected(),
		GenerationQueued:   len(s.generationQueue),
		ValidationQueued:   len(s.validationQueue),
		InValidationQueued: len(s.inValidationQueue),
	}
}
