package executor

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/internal/config"
)

// Header names of the runtime protocol. The request id and deadline follow
// the AWS Lambda runtime interface, so unmodified Lambda runtime clients can
// talk to this server.
const (
	HeaderInstanceID    = "X-Instance-Id"
	HeaderRequestID     = "Lambda-Runtime-Aws-Request-Id"
	HeaderDeadlineMs    = "Lambda-Runtime-Deadline-Ms"
	HeaderHandler       = "X-Handler"
	HeaderHandlerDir    = "X-Handler-Dir"
	HeaderFunctionError = "Lambda-Runtime-Function-Error-Type"
)

// RuntimeServer exposes the invocation channel to in-container clients over
// HTTP long polling.
type RuntimeServer struct {
	channel *Channel
}

func NewRuntimeServer(ch *Channel) *RuntimeServer {
	return &RuntimeServer{channel: ch}
}

// StartRuntimeServer serves the runtime API on the configured port. It only
// listens on the container bridge address: the protocol is not meant to be
// reachable from outside the host.
func StartRuntimeServer(e *echo.Echo, ch *Channel) {
	s := NewRuntimeServer(ch)
	s.RegisterRoutes(e)

	e.Use(middleware.Recover())
	e.HideBanner = true

	host := config.GetString(config.RUNTIME_API_HOST, "0.0.0.0")
	portNumber := config.GetInt(config.RUNTIME_API_PORT, 9001)
	if err := e.Start(fmt.Sprintf("%s:%d", host, portNumber)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.Logger.Fatal("shutting down the runtime server")
	}
}

func (s *RuntimeServer) RegisterRoutes(e *echo.Echo) {
	e.GET("/2018-06-01/runtime/invocation/next", s.NextInvocation)
	e.POST("/2018-06-01/runtime/invocation/:reqId/response", s.InvocationResponse)
	e.POST("/2018-06-01/runtime/invocation/:reqId/error", s.InvocationError)
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
}

// NextInvocation long-polls the container's mailbox. Returns 204 when the
// poll window elapses without work, so the client simply polls again.
func (s *RuntimeServer) NextInvocation(c echo.Context) error {
	instanceID := c.Request().Header.Get(HeaderInstanceID)
	if instanceID == "" {
		return c.String(http.StatusBadRequest, "missing instance id header")
	}

	timeout := time.Duration(config.GetInt(config.LONGPOLL_TIMEOUT_MS, 30000)) * time.Millisecond
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	inv, err := s.channel.Poll(ctx, instanceID)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if inv == nil {
		return c.NoContent(http.StatusNoContent)
	}

	h := c.Response().Header()
	h.Set(HeaderRequestID, inv.RequestID)
	h.Set(HeaderDeadlineMs, strconv.FormatInt(inv.DeadlineMs, 10))
	h.Set(HeaderHandler, inv.Handler)
	h.Set(HeaderHandlerDir, inv.HandlerDir)
	return c.JSONBlob(http.StatusOK, inv.Payload)
}

// InvocationResponse accepts a successful result from the container.
func (s *RuntimeServer) InvocationResponse(c echo.Context) error {
	reqID := c.Param("reqId")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "could not read result body")
	}

	delivered := s.channel.Complete(&InvocationResult{
		RequestID: reqID,
		Result:    string(body),
	})
	if !delivered {
		// nobody is waiting: the invocation already timed out
		log.Debugf("Dropping late completion for request %s", reqID)
	}
	return c.NoContent(http.StatusAccepted)
}

// InvocationError accepts an error result from the container. The error type
// header distinguishes handled application errors from runtime failures.
func (s *RuntimeServer) InvocationError(c echo.Context) error {
	reqID := c.Param("reqId")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "could not read error body")
	}

	errorType := c.Request().Header.Get(HeaderFunctionError)
	if errorType == "" {
		errorType = "Handled"
	}

	delivered := s.channel.Complete(&InvocationResult{
		RequestID:     reqID,
		Result:        string(body),
		FunctionError: errorType,
	})
	if !delivered {
		log.Debugf("Dropping late error for request %s", reqID)
	}
	return c.NoContent(http.StatusAccepted)
}
