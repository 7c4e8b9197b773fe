package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"whisperkey/audio"
	"whisperkey/clipboard"
	"whisperkey/controller"
	"whisperkey/device"
	"whisperkey/transcriber"
)

const appName = "whisperkey"

type startRequest struct {
	ModelSize string `json:"model_size"`
	Device    string `json:"device"`
	Language  string `json:"language"`
	MicIndex  *int   `json:"mic_index,omitempty"`
}

type startResponse struct {
	Status          string `json:"status"`
	Model           string `json:"model"`
	DeviceRequested string `json:"device_requested"`
	DeviceResolved  string `json:"device_resolved"`
	FallbackReason  string `json:"fallback_reason,omitempty"`
	SessionID       string `json:"session_id"`
}

type stopResponse struct {
	Status            string  `json:"status"`
	SessionID         string  `json:"session_id"`
	Text              string  `json:"text"`
	Language          string  `json:"language"`
	Duration          float64 `json:"duration"`
	TranscriptionTime float64 `json:"transcription_time"`
	Model             string  `json:"model"`
	Device            string  `json:"device"`
	Skipped           bool    `json:"skipped,omitempty"`
	Quiet             bool    `json:"quiet,omitempty"`
	RetriedOnCPU      bool    `json:"retried_on_cpu,omitempty"`
	InjectError       string  `json:"inject_error,omitempty"`
}

type healthResponse struct {
	Status    string              `json:"status"`
	Backend   string              `json:"backend"`
	Model     *transcriber.Loaded `json:"model"`
	Recording bool                `json:"recording"`
	State     controller.State    `json:"state"`
	SessionID string              `json:"session_id,omitempty"`
	GPU       device.Probe        `json:"gpu"`
}

type input struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

type gpuResponse struct {
	device.Info
	Probe device.Probe `json:"probe"`
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"app":     appName,
		"version": s.deps.Version,
		"status":  "ok",
	})
}

func (s *Server) health(c echo.Context) error {
	h := s.deps.Controller.Health()
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Backend:   s.deps.Backend,
		Model:     h.Model,
		Recording: h.State == controller.Recording,
		State:     h.State,
		SessionID: h.SessionID,
		GPU:       h.Probe,
	})
}

func (s *Server) level(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Controller.Level())
}

func (s *Server) devices(c echo.Context) error {
	if s.deps.Inputs == nil {
		return c.JSON(http.StatusOK, map[string][]input{"inputs": {}})
	}
	list, err := s.deps.Inputs()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, fmt.Sprintf("list input devices: %v", err))
	}
	inputs := make([]input, len(list))
	for i, d := range list {
		inputs[i] = input{Index: i, ID: d.ID, Name: d.Name}
	}
	return c.JSON(http.StatusOK, map[string][]input{"inputs": inputs})
}

func (s *Server) gpu(c echo.Context) error {
	var info device.Info
	if s.deps.GPUInfo != nil {
		info = s.deps.GPUInfo()
	}
	return c.JSON(http.StatusOK, gpuResponse{Info: info, Probe: s.deps.Probes.Probe()})
}

func (s *Server) reprobe(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Probes.Reprobe())
}

func (s *Server) options(req startRequest) (controller.Options, error) {
	var opts controller.Options
	if s.deps.Defaults != nil {
		opts = s.deps.Defaults()
	} else {
		opts = controller.Options{ModelSize: transcriber.DefaultModelSize, Language: "en", MicIndex: -1}
	}
	if req.ModelSize != "" {
		opts.ModelSize = req.ModelSize
	}
	if req.Language != "" {
		opts.Language = req.Language
	}
	if req.Device != "" {
		intent, err := device.ParseIntent(req.Device)
		if err != nil {
			return opts, err
		}
		opts.Device = intent
	}
	if req.MicIndex != nil {
		opts.MicIndex = *req.MicIndex
	}
	return opts, transcriber.ValidateModelSize(opts.ModelSize)
}

func (s *Server) start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	opts, err := s.options(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	st, err := s.deps.Controller.Start(c.Request().Context(), opts)
	if err != nil {
		return startError(err)
	}
	return c.JSON(http.StatusOK, startResponse{
		Status:          "started",
		Model:           st.ModelSize,
		DeviceRequested: st.Resolution.Intent.String(),
		DeviceResolved:  st.Resolution.Device.String(),
		FallbackReason:  st.Resolution.FallbackReason,
		SessionID:       st.SessionID,
	})
}

func startError(err error) error {
	var ce *audio.CaptureError
	switch {
	case errors.Is(err, controller.ErrAlreadyRecording):
		return echo.NewHTTPError(http.StatusConflict, "Already recording")
	case errors.Is(err, controller.ErrInvalidOptions), errors.Is(err, device.ErrGPUUnavailable):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &ce):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, controller.ErrStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (s *Server) stop(c echo.Context) error {
	o, err := s.deps.Controller.Stop(c.Request().Context())
	switch {
	case errors.Is(err, controller.ErrNotRecording):
		return echo.NewHTTPError(http.StatusConflict, "Not recording")
	case errors.Is(err, controller.ErrStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := stopResponse{
		Status:            "success",
		SessionID:         o.SessionID,
		Text:              o.Text,
		Language:          o.Language,
		Duration:          o.Duration.Seconds(),
		TranscriptionTime: o.TranscriptionTime.Seconds(),
		Model:             o.Model,
		Device:            o.Device.String(),
		Skipped:           o.Skipped,
		Quiet:             o.Quiet,
		RetriedOnCPU:      o.RetriedOnCPU,
	}
	if o.Err != nil {
		var ie *clipboard.InjectionError
		switch {
		case errors.As(o.Err, &ie):
			resp.InjectError = ie.Error()
		case errors.Is(o.Err, controller.ErrStopped):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("%s failed: %v", o.Stage, o.Err))
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) cancel(c echo.Context) error {
	if err := s.deps.Controller.Cancel(); err != nil {
		if errors.Is(err, controller.ErrNotRecording) {
			return echo.NewHTTPError(http.StatusConflict, "Not recording")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "canceled"})
}
