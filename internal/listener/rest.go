package listener

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const (
	RelayRoute = "/relayvaa/"

	MessageScheduled = "Scheduled"
)

// Response is the JSON body of every /relayvaa reply.
type Response struct {
	Message string `json:"message"`
}

// RESTListener accepts base64 encoded VAAs over HTTP.
type RESTListener struct {
	server    *echo.Echo
	submitter Submitter
	logger    *zap.Logger
}

// NewRESTListener builds the echo server. Request metrics are recorded under
// the given namespace.
func NewRESTListener(logger *zap.Logger, submitter Submitter, metricsNamespace string) *RESTListener {
	l := &RESTListener{
		server:    echo.New(),
		submitter: submitter,
		logger:    logger.With(zap.String("component", "RESTListener")),
	}

	l.server.HideBanner = true
	l.server.HidePort = true
	l.server.Use(middleware.Recover())
	if metricsNamespace != "" {
		l.server.Use(echoprometheus.NewMiddleware(metricsNamespace))
	}

	l.server.GET("/", l.routes)
	l.server.GET("/health", l.health)
	l.server.GET(RelayRoute+"*", l.relay)
	return l
}

// Handler exposes the router for tests.
func (l *RESTListener) Handler() http.Handler {
	return l.server
}

// Run serves on addr until ctx is cancelled.
func (l *RESTListener) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		l.logger.Info("REST listener started", zap.String("addr", addr))
		errCh <- l.server.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("REST listener failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down REST listener: %w", err)
	}
	l.logger.Info("REST listener stopped")
	return nil
}

func (l *RESTListener) routes(c echo.Context) error {
	return c.JSON(http.StatusOK, []string{RelayRoute + "<vaaInBase64>"})
}

func (l *RESTListener) health(c echo.Context) error {
	return c.JSON(http.StatusOK, Response{Message: "ok"})
}

func (l *RESTListener) relay(c echo.Context) error {
	param, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, Response{Message: "invalid path encoding"})
	}

	raw, err := decodeBase64(param)
	if err != nil {
		return c.JSON(http.StatusBadRequest, Response{Message: "invalid base64 VAA"})
	}

	res, err := l.submitter.Submit(c.Request().Context(), raw)
	if err != nil {
		l.logger.Error("Failed to schedule VAA", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
	}
	if !res.Accepted() {
		l.logger.Debug("Rejected VAA", zap.String("reason", res.Reason))
		return c.JSON(http.StatusBadRequest, Response{Message: res.Reason})
	}
	return c.JSON(http.StatusOK, Response{Message: MessageScheduled})
}

// decodeBase64 accepts the standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil && len(b) > 0 {
			return b, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("empty VAA")
	}
	return nil, lastErr
}
