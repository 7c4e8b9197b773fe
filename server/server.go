// Package server exposes the dictation controller over a small JSON HTTP
// API for scripts and the settings UI.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"whisperkey/audio"
	"whisperkey/controller"
	"whisperkey/device"
	"whisperkey/log"
)

type Controller interface {
	Start(ctx context.Context, opts controller.Options) (controller.Started, error)
	Stop(ctx context.Context) (controller.Outcome, error)
	Cancel() error
	Level() controller.Level
	Health() controller.Health
}

type Prober interface {
	Probe() device.Probe
	Reprobe() device.Probe
}

type Deps struct {
	Controller Controller
	Probes     Prober
	// Defaults fills fields a /start body leaves out.
	Defaults func() controller.Options
	Inputs   func() ([]audio.DeviceInfo, error)
	GPUInfo  func() device.Info
	Backend  string
	Version  string
}

type Server struct {
	e    *echo.Echo
	deps Deps
}

func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{e: e, deps: deps}

	e.GET("/", s.root)
	e.GET("/health", s.health)
	e.GET("/level", s.level)
	e.GET("/devices", s.devices)
	e.GET("/gpu", s.gpu)
	e.POST("/gpu/probe", s.reprobe)

	e.POST("/start", s.start)
	e.POST("/stop", s.stop)
	e.POST("/cancel", s.cancel)

	return s
}

func (s *Server) Handler() http.Handler { return s.e }

// Serve runs until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errc
		return nil
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Request(v.Method, v.URIPath, v.Status, v.Latency, v.Error)
			return nil
		},
	})
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if err := c.JSON(code, errorBody{Status: "error", Message: msg}); err != nil {
		log.Warnf("write error response: %v", err)
	}
}
