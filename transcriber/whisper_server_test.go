package transcriber

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"whisperkey/device"
)

func newWhisperStub(t *testing.T, transcribe http.HandlerFunc) (*httptest.Server, func() *multipart.Form) {
	t.Helper()
	var mu sync.Mutex
	var last *multipart.Form
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"data":[{"id":"Systran/faster-whisper-small"},{"id":"Systran/faster-whisper-tiny"}]}`)
	})
	mux.HandleFunc("POST /v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		mu.Lock()
		last = r.MultipartForm
		mu.Unlock()
		transcribe(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() *multipart.Form {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestWhisperServerTranscribe(t *testing.T) {
	srv, last := newWhisperStub(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"  hello there ","language":"en","duration":1.0,
			"segments":[{"text":" hello there","start":0,"end":1,"no_speech_prob":0.01,"avg_logprob":-0.2}]}`)
	})

	ws := NewWhisperServer(srv.URL+"/", "secret", "")
	m, err := ws.Load(context.Background(), LoadSpec{ModelSize: "small", Device: device.KindGPU, ComputeType: "float16"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	res, err := m.Transcribe(context.Background(), speech(time.Second), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" || res.Language != "en" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "hello there" {
		t.Errorf("segments = %+v", res.Segments)
	}
	if res.Metrics == nil || res.UploadSize == 0 {
		t.Error("missing metrics or upload size")
	}

	form := last()
	if form == nil {
		t.Fatal("no multipart form received")
	}
	for k, want := range map[string]string{
		"model":        "Systran/faster-whisper-small",
		"device":       "cuda",
		"compute_type": "float16",
		"language":     "en",
	} {
		if got := form.Value[k]; len(got) != 1 || got[0] != want {
			t.Errorf("field %s = %v, want %s", k, got, want)
		}
	}
	files := form.File["file"]
	if len(files) != 1 || !strings.HasSuffix(files[0].Filename, ".flac") {
		t.Errorf("file part = %+v", files)
	}
}

func TestServiceDropsNoSpeechSegments(t *testing.T) {
	srv, _ := newWhisperStub(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"Thank you for watching.","language":"en",
			"segments":[{"text":" Thank you for watching.","start":0,"end":1,"no_speech_prob":0.91,"avg_logprob":-1.35}]}`)
	})
	sel := gpuSelector(nil)
	svc := NewService(NewWhisperServer(srv.URL, "secret", ""), sel)
	defer svc.Close()

	tr, err := svc.Transcribe(context.Background(), speech(time.Second), Request{ModelSize: "small", Resolution: resolve(t, sel, device.CPU)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("text = %q, want hallucination dropped", tr.Text)
	}
}

func TestWhisperServerAutoLanguage(t *testing.T) {
	srv, last := newWhisperStub(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"hola","language":"es"}`)
	})
	m, err := NewWhisperServer(srv.URL, "secret", "").Load(context.Background(), LoadSpec{ModelSize: "tiny", ComputeType: "int8"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, err := m.Transcribe(context.Background(), speech(time.Second), "auto")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if _, ok := last().Value["language"]; ok {
		t.Error("language sent for auto-detect")
	}
	if res.Language != "es" {
		t.Errorf("language = %q", res.Language)
	}
}

func TestWhisperServerLoadErrors(t *testing.T) {
	srv, _ := newWhisperStub(t, func(w http.ResponseWriter, r *http.Request) {})

	t.Run("unknown model", func(t *testing.T) {
		_, err := NewWhisperServer(srv.URL, "secret", "").Load(context.Background(), LoadSpec{ModelSize: "large-v3"})
		var le *LoadError
		if !errors.As(err, &le) || le.Kind != LibraryMissing {
			t.Errorf("err = %v, want LibraryMissing", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		url := dead.URL
		dead.Close()
		_, err := NewWhisperServer(url, "", "").Load(context.Background(), LoadSpec{ModelSize: "small", Device: device.KindGPU})
		var le *LoadError
		if !errors.As(err, &le) || le.Kind != LibraryMissing || le.Device != device.KindGPU {
			t.Errorf("err = %v, want LibraryMissing on cuda", err)
		}
	})

	t.Run("server oom", func(t *testing.T) {
		oom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "CUDA failed with error out of memory", http.StatusInternalServerError)
		}))
		defer oom.Close()
		_, err := NewWhisperServer(oom.URL, "", "").Load(context.Background(), LoadSpec{ModelSize: "small", Device: device.KindGPU})
		var le *LoadError
		if !errors.As(err, &le) || le.Kind != OutOfMemory {
			t.Errorf("err = %v, want OutOfMemory", err)
		}
	})
}

func TestWhisperServerTranscribeErrors(t *testing.T) {
	for _, tt := range []struct {
		name   string
		status int
		body   string
		kind   device.Kind
		want   TranscribeErrorKind
	}{
		{"cublas on gpu", 500, "RuntimeError: cuBLAS failed with status CUBLAS_STATUS_NOT_SUPPORTED", device.KindGPU, DeviceFault},
		{"bad audio", 400, "invalid audio file", device.KindGPU, Fatal},
		{"cpu crash", 500, "internal error", device.KindCPU, Fatal},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newWhisperStub(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.body, tt.status)
			})
			m, err := NewWhisperServer(srv.URL, "secret", "").Load(context.Background(), LoadSpec{ModelSize: "small", Device: tt.kind})
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			_, err = m.Transcribe(context.Background(), speech(time.Second), "en")
			var te *TranscribeError
			if !errors.As(err, &te) || te.Kind != tt.want {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWhisperServerModelTemplate(t *testing.T) {
	ws := NewWhisperServer("http://localhost", "", "whisper-{size}-ct2")
	if got := ws.ModelName("large-v3"); got != "whisper-large-v3-ct2" {
		t.Errorf("ModelName = %q", got)
	}
}
