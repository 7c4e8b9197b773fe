package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"whisperkey/audio"
	"whisperkey/encoder"
)

const DefaultModelTemplate = "Systran/faster-whisper-{size}"

// WhisperServer loads models on an OpenAI-compatible faster-whisper server
// (speaches, faster-whisper-server). The server holds the weights; a Model
// here is a handle naming the model, device and compute type to use.
type WhisperServer struct {
	baseURL  string
	apiKey   string
	template string
	client   *TracedClient
}

func NewWhisperServer(baseURL, apiKey, template string) *WhisperServer {
	if template == "" {
		template = DefaultModelTemplate
	}
	return &WhisperServer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		template: template,
		client:   NewTracedClient(5 * time.Minute),
	}
}

// ModelName expands the template for size.
func (w *WhisperServer) ModelName(size string) string {
	return strings.ReplaceAll(w.template, "{size}", size)
}

func (w *WhisperServer) newRequest(ctx context.Context, method, path string, body *bytes.Buffer) (*http.Request, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, w.baseURL+path, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, w.baseURL+path, body)
	}
	if err != nil {
		return nil, err
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	return req, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Load checks that the server is up and willing to serve the model.
func (w *WhisperServer) Load(ctx context.Context, opts LoadSpec) (Model, error) {
	name := w.ModelName(opts.ModelSize)
	fail := func(kind LoadErrorKind, err error) error {
		return &LoadError{Kind: kind, ModelSize: opts.ModelSize, Device: opts.Device, Err: err}
	}

	req, err := w.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, fail(LoadUnknown, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fail(LoadUnknown, ctx.Err())
		}
		return nil, fail(LibraryMissing, fmt.Errorf("whisper server unreachable at %s: %w", w.baseURL, err))
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("whisper server error %d: %s", resp.StatusCode, bytes.TrimSpace(resp.Body))
		return nil, asLoadError(err, opts.ModelSize, opts.Device)
	}

	var models modelsResponse
	if err := json.Unmarshal(resp.Body, &models); err != nil {
		return nil, fail(LoadUnknown, fmt.Errorf("models response parse error: %w", err))
	}
	// An empty list means the server downloads models on first use.
	if len(models.Data) > 0 && !hasModel(models, name) {
		return nil, fail(LibraryMissing, fmt.Errorf("model %s not available on server", name))
	}

	return &serverModel{server: w, opts: opts, name: name}, nil
}

func hasModel(m modelsResponse, name string) bool {
	for _, d := range m.Data {
		if d.ID == name {
			return true
		}
	}
	return false
}

type serverModel struct {
	server *WhisperServer
	opts   LoadSpec
	name   string
}

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		NoSpeechProb float64 `json:"no_speech_prob"`
		AvgLogProb   float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (m *serverModel) Transcribe(ctx context.Context, buf audio.Buffer, language string) (Result, error) {
	if buf.Empty() {
		return Result{}, &TranscribeError{Kind: EmptyAudio}
	}

	enc, err := encoder.NewFlac()
	if err != nil {
		return Result{}, &TranscribeError{Kind: Fatal, Err: err}
	}
	data, err := encoder.Encode(enc, buf.PCM16())
	if err != nil {
		return Result{}, &TranscribeError{Kind: Fatal, Err: fmt.Errorf("encode: %w", err)}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio."+enc.Ext())
	if err != nil {
		return Result{}, &TranscribeError{Kind: Fatal, Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return Result{}, &TranscribeError{Kind: Fatal, Err: err}
	}
	writer.WriteField("model", m.name)
	writer.WriteField("response_format", "verbose_json")
	writer.WriteField("temperature", "0")
	writer.WriteField("device", m.opts.Device.String())
	writer.WriteField("compute_type", m.opts.ComputeType)
	if language != "" && language != "auto" {
		writer.WriteField("language", language)
	}
	writer.Close()

	req, err := m.server.newRequest(ctx, http.MethodPost, "/v1/audio/transcriptions", &body)
	if err != nil {
		return Result{}, &TranscribeError{Kind: Fatal, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.server.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, &TranscribeError{Kind: Fatal, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("whisper server error %d: %s", resp.StatusCode, bytes.TrimSpace(resp.Body))
		return Result{}, asTranscribeError(err, m.opts.Device)
	}

	var vr verboseResponse
	if err := json.Unmarshal(resp.Body, &vr); err != nil {
		return Result{}, &TranscribeError{Kind: Fatal, Err: fmt.Errorf("response parse error: %w", err)}
	}

	out := Result{
		Text:       strings.TrimSpace(vr.Text),
		Language:   vr.Language,
		Metrics:    resp.Metrics,
		UploadSize: len(data),
		EncodeTime: enc.EncodeTime(),
	}
	for _, s := range vr.Segments {
		out.Segments = append(out.Segments, Segment{
			Text:         strings.TrimSpace(s.Text),
			Start:        s.Start,
			End:          s.End,
			NoSpeechProb: s.NoSpeechProb,
			AvgLogProb:   s.AvgLogProb,
		})
	}
	return out, nil
}

func (m *serverModel) Close() error {
	m.server.client.CloseIdle()
	return nil
}
