package coqui

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/duologue/pkg/provider/tts"
)

// buildWAV wraps mono 16-bit pcm at rate in a minimal RIFF container. An
// odd-sized LIST chunk precedes the data to exercise chunk padding.
func buildWAV(pcm []byte, rate int) []byte {
	le := binary.LittleEndian
	var b []byte
	u32 := func(v uint32) { b = le.AppendUint32(b, v) }
	u16 := func(v uint16) { b = le.AppendUint16(b, v) }

	b = append(b, "RIFF"...)
	u32(uint32(4 + 24 + 8 + 4 + 8 + len(pcm)))
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	u32(16)
	u16(1)
	u16(1)
	u32(uint32(rate))
	u32(uint32(rate * 2))
	u16(2)
	u16(16)
	b = append(b, "LIST"...)
	u32(3)
	b = append(b, 'a', 'b', 'c', 0)
	b = append(b, "data"...)
	u32(uint32(len(pcm)))
	return append(b, pcm...)
}

func collect(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	var out []byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c...)
		case <-timeout:
			t.Fatal("timed out draining audio")
		}
	}
}

func feed(parts ...string) <-chan string {
	ch := make(chan string, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return ch
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New(\"\") should fail")
	}
	p, err := New("http://localhost:5002/", WithSampleRate(24000), WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q, want trailing slash trimmed", p.serverURL)
	}
	if got := p.OutputFormat(); got != "pcm_24000" {
		t.Errorf("OutputFormat = %q, want pcm_24000", got)
	}
	if p.mode != APIModeStandard || p.language != "de" {
		t.Errorf("mode/language = %q/%q", p.mode, p.language)
	}
}

func TestParseAPIMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    APIMode
		wantErr bool
	}{
		{"", APIModeStandard, false},
		{"standard", APIModeStandard, false},
		{"XTTS", APIModeXTTS, false},
		{"piper", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAPIMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAPIMode(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"Imagination is more important than knowledge.", []string{"Imagination is more important than knowledge."}},
		{"Pi is 3.14 roughly. Right? Yes", []string{"Pi is 3.14 roughly.", "Right?", "Yes"}},
		{"  Buy low!  Sell high.  ", []string{"Buy low!", "Sell high."}},
	}
	for _, tt := range tests {
		if got := splitSentences(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSynthesizeStream_Standard(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != standardTTSPath {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("speaker_id") != "p225" || q.Get("language_id") != "en" {
			t.Errorf("query = %v", q)
		}
		mu.Lock()
		texts = append(texts, q.Get("text"))
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(buildWAV([]byte{1, 0, 2, 0}, 16000))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := p.SynthesizeStream(context.Background(), feed("The stock market ", "is a voting machine. ", "Long term it weighs."), tts.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 8 {
		t.Errorf("got %d bytes of audio, want 8", len(got))
	}
	want := []string{"The stock market is a voting machine.", "Long term it weighs."}
	if !slices.Equal(texts, want) {
		t.Errorf("requests = %q, want %q", texts, want)
	}
}

func TestSynthesizeStream_XTTSResamples(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != xttsTTSPath {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["speaker_wav"] != "Claribel Dervla" || body["text"] != "Stay hungry." {
			t.Errorf("body = %v", body)
		}
		// 8 samples at 32 kHz become 4 samples at 16 kHz.
		_, _ = w.Write(buildWAV(make([]byte, 16), 32000))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS))
	ch, err := p.SynthesizeStream(context.Background(), feed("Stay hungry."), tts.VoiceProfile{ID: "Claribel Dervla"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if got := collect(t, ch); len(got) != 8 {
		t.Errorf("got %d bytes, want 8", len(got))
	}
}

func TestSynthesizeStream_XTTSNeedsVoice(t *testing.T) {
	t.Parallel()

	p, _ := New("http://localhost:1", WithAPIMode(APIModeXTTS))
	if _, err := p.SynthesizeStream(context.Background(), feed("hi"), tts.VoiceProfile{}); err == nil {
		t.Error("expected an error for an empty voice in xtts mode")
	}
}

func TestSynthesizeStream_ServerErrorEndsStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	ch, err := p.SynthesizeStream(context.Background(), feed("One. Two."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if got := collect(t, ch); len(got) != 0 {
		t.Errorf("got %d bytes, want none", len(got))
	}
}

func TestSynthesizeStream_ContextCancelled(t *testing.T) {
	t.Parallel()

	p, _ := New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	text := make(chan string)
	ch, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	cancel()
	collect(t, ch)
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode APIMode
		path string
		body string
		want []string
	}{
		{"multi speaker", APIModeStandard, detailsPath, `{"model_name":"vctk/vits","speakers":["p376","p225"]}`, []string{"p225", "p376"}},
		{"single speaker", APIModeStandard, detailsPath, `{"model_name":"ljspeech/vits"}`, []string{"ljspeech/vits"}},
		{"xtts studio", APIModeXTTS, xttsSpeakerPath, `{"Daisy Studious":{},"Ana Florence":{}}`, []string{"Ana Florence", "Daisy Studious"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, _ := New(srv.URL, WithAPIMode(tt.mode))
			voices, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			var got []string
			for _, v := range voices {
				got = append(got, v.ID)
				if v.Provider != "coqui" {
					t.Errorf("Provider = %q, want coqui", v.Provider)
				}
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("voices = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Error("expected an error for status 503")
	}
}

func TestParseWAV(t *testing.T) {
	t.Parallel()

	info, err := parseWAV(buildWAV([]byte{9, 9}, 22050))
	if err != nil {
		t.Fatalf("parseWAV: %v", err)
	}
	if info.dataOffset != 12+24+12+8 || info.sampleRate != 22050 || info.channels != 1 || info.bitsPerSample != 16 {
		t.Errorf("info = %+v", info)
	}

	for name, in := range map[string][]byte{
		"short":   {1, 2},
		"no riff": []byte("RIFX\x00\x00\x00\x00WAVE"),
		"no data": []byte("RIFF\x04\x00\x00\x00WAVE"),
	} {
		if _, err := parseWAV(in); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	le := binary.LittleEndian
	var pcm []byte
	for _, s := range []int16{0, 100, 200, 300} {
		pcm = le.AppendUint16(pcm, uint16(s))
	}
	if got := resample(pcm, 16000, 16000); len(got) != len(pcm) {
		t.Errorf("same rate changed length to %d", len(got))
	}
	down := resample(pcm, 16000, 8000)
	if len(down) != 4 {
		t.Fatalf("downsampled length = %d, want 4", len(down))
	}
	if got := int16(le.Uint16(down[2:])); got != 200 {
		t.Errorf("second sample = %d, want 200", got)
	}
	up := resample(pcm, 8000, 16000)
	if got := int16(le.Uint16(up[2:])); got != 50 {
		t.Errorf("interpolated sample = %d, want 50", got)
	}
}
