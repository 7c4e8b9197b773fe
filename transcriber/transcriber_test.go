package transcriber

import (
	"errors"
	"testing"
	"time"

	"whisperkey/device"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	got := m.Sum()
	want := 195 * time.Millisecond
	if got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func TestSpeechText(t *testing.T) {
	for _, tt := range []struct {
		name    string
		r       Result
		want    string
		dropped int
	}{
		{"no segments", Result{Text: "hello"}, "hello", 0},
		{
			"all speech",
			Result{Text: "hello there", Segments: []Segment{{Text: "hello there", NoSpeechProb: 0.02, AvgLogProb: -0.3}}},
			"hello there", 0,
		},
		{
			"silence hallucination",
			Result{Text: "Thank you.", Segments: []Segment{{Text: "Thank you.", NoSpeechProb: 0.92, AvgLogProb: -1.4}}},
			"", 1,
		},
		{
			"confident despite no-speech score",
			Result{Text: "yes", Segments: []Segment{{Text: "yes", NoSpeechProb: 0.8, AvgLogProb: -0.5}}},
			"yes", 0,
		},
		{
			"trailing hallucination",
			Result{Text: "send it. Thanks for watching!", Segments: []Segment{
				{Text: "send it.", NoSpeechProb: 0.1, AvgLogProb: -0.4},
				{Text: "Thanks for watching!", NoSpeechProb: 0.7, AvgLogProb: -1.2},
			}},
			"send it.", 1,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := tt.r.SpeechText()
			if got != tt.want || dropped != tt.dropped {
				t.Errorf("SpeechText() = %q, %d; want %q, %d", got, dropped, tt.want, tt.dropped)
			}
		})
	}
}

func TestValidateModelSize(t *testing.T) {
	for _, size := range ModelSizes {
		if err := ValidateModelSize(size); err != nil {
			t.Errorf("ValidateModelSize(%q): %v", size, err)
		}
	}
	for _, size := range []string{"", "huge", "large", "Small"} {
		if err := ValidateModelSize(size); err == nil {
			t.Errorf("ValidateModelSize(%q) accepted", size)
		}
	}
}

func TestAsLoadError(t *testing.T) {
	for _, tt := range []struct {
		msg  string
		want LoadErrorKind
	}{
		{"CUDA failed with error out of memory", OutOfMemory},
		{"Could not load library cudnn_ops_infer64_8.dll", LibraryMissing},
		{"libcublas.so.12: cannot open shared object file: No such file or directory", LibraryMissing},
		{"unexpected EOF", LoadUnknown},
	} {
		t.Run(tt.msg, func(t *testing.T) {
			le := asLoadError(errors.New(tt.msg), "small", device.KindGPU)
			if le.Kind != tt.want {
				t.Errorf("kind = %v, want %v", le.Kind, tt.want)
			}
			if le.ModelSize != "small" || le.Device != device.KindGPU {
				t.Errorf("load error lost context: %+v", le)
			}
		})
	}

	orig := &LoadError{Kind: OutOfMemory, ModelSize: "tiny"}
	if got := asLoadError(orig, "small", device.KindCPU); got != orig {
		t.Error("existing LoadError was rewrapped")
	}
}

func TestAsTranscribeError(t *testing.T) {
	for _, tt := range []struct {
		name string
		msg  string
		kind device.Kind
		want TranscribeErrorKind
	}{
		{"cublas on gpu", "cuBLAS failed with status CUBLAS_STATUS_NOT_SUPPORTED", device.KindGPU, DeviceFault},
		{"oom on gpu", "CUDA out of memory", device.KindGPU, DeviceFault},
		{"cuda text on cpu", "cuda", device.KindCPU, Fatal},
		{"bad request", "invalid audio", device.KindGPU, Fatal},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := asTranscribeError(errors.New(tt.msg), tt.kind).Kind; got != tt.want {
				t.Errorf("kind = %v, want %v", got, tt.want)
			}
		})
	}
}
