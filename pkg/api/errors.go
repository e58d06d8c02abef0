package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/orchestrator"
)

// errorBody is the JSON error envelope from spec.md §6.1:
// { "error": { "code", "message", "requestId", "details"? } }.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
	Details   any    `json:"details,omitempty"`
}

// writeError maps err to a status/code/details triple following spec.md §7's
// taxonomy and writes the envelope, mirroring the teacher's mapServiceError
// (pkg/api/errors.go) but in gin's idiom instead of echo's.
func writeError(c *gin.Context, err error) {
	status, code, details := classify(err)
	if status == http.StatusInternalServerError {
		slog.With("requestId", requestID(c)).Error("request failed", "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{
		Code:      code,
		Message:   err.Error(),
		RequestID: requestID(c),
		Details:   details,
	}})
}

func classify(err error) (status int, code string, details any) {
	var seqErr *models.TurnSequenceConflictError
	if errors.As(err, &seqErr) {
		return http.StatusConflict, "TURN_SEQUENCE_CONFLICT", gin.H{
			"expectedTurn": seqErr.ExpectedTurn,
			"receivedTurn": seqErr.ReceivedTurn,
		}
	}
	var stepErr *models.StepExecutionConflictError
	if errors.As(err, &stepErr) {
		return http.StatusConflict, "STEP_EXECUTION_CONFLICT", gin.H{"activeTurn": stepErr.ActiveTurn}
	}

	var stageErr *orchestrator.StageError
	if errors.As(err, &stageErr) {
		return http.StatusInternalServerError, "TURN_PROCESSING_FAILED", gin.H{"stage": stageErr.Stage}
	}
	var moduleErr *models.ModuleError
	if errors.As(err, &moduleErr) {
		return http.StatusInternalServerError, "TURN_PROCESSING_FAILED", gin.H{"stage": moduleErr.Role}
	}

	if errors.Is(err, models.ErrGameProjectNotFound) {
		return http.StatusNotFound, "GAME_PROJECT_NOT_FOUND", nil
	}
	if errors.Is(err, models.ErrRunNotFound) {
		return http.StatusNotFound, "RUN_NOT_FOUND", nil
	}
	if errors.Is(err, models.ErrExecutionNotFound) {
		return http.StatusNotFound, "STEP_EXECUTION_NOT_FOUND", nil
	}

	var validationErr *validationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, validationErr.Code, nil
	}

	var coded *codedError
	if errors.As(err, &coded) {
		return http.StatusInternalServerError, coded.Code, nil
	}

	var storeErr *models.StoreError
	if errors.As(err, &storeErr) {
		return http.StatusInternalServerError, "STORE_ERROR", nil
	}

	return http.StatusInternalServerError, "INTERNAL_ERROR", nil
}

// codedError attaches a fixed error code to an otherwise-unstructured
// failure, for the handful of 500s spec.md §6.1 names explicitly
// (RUN_START_FAILED, SESSION_LIST_FAILED) rather than the generic fallback.
type codedError struct {
	Code string
	Err  error
}

func (e *codedError) Error() string { return e.Err.Error() }
func (e *codedError) Unwrap() error { return e.Err }

func withCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{Code: code, Err: err}
}

func runStartFailed(err error) error    { return withCode("RUN_START_FAILED", err) }
func sessionListFailed(err error) error { return withCode("SESSION_LIST_FAILED", err) }

// validationError is a client-misuse failure caught at the API boundary
// before any store or driver call (spec.md §7's "client misuse" taxonomy
// entry): missing fields, non-integer turn, turn<1.
type validationError struct {
	Code    string
	Message string
}

func (e *validationError) Error() string { return e.Message }

func badRequest(code, message string) *validationError {
	return &validationError{Code: code, Message: message}
}
