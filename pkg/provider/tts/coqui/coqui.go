// Package coqui implements tts.Provider against a self-hosted Coqui TTS
// server. It is meant as an offline fallback for the hosted voice backend:
// personas whose voice ID is unknown to the server are spoken in the
// server's default voice instead of failing the turn.
//
// Two server flavours are supported:
//
//   - APIModeStandard (default): the stock Coqui server image. Synthesis is
//     GET /api/tts, the voice list comes from GET /details.
//   - APIModeXTTS: the XTTS v2 API server. Synthesis is POST /tts_to_audio/,
//     the voice list comes from GET /studio_speakers.
//
// Both answer with a WAV file per request. The provider strips the RIFF
// container and emits 16-bit mono PCM at a fixed sample rate, so clips are
// labelled "pcm_<rate>" and their duration is exact.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/duologue/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultSampleRate = 16000

	standardTTSPath = "/api/tts"
	detailsPath     = "/details"
	xttsTTSPath     = "/tts_to_audio/"
	xttsSpeakerPath = "/studio_speakers"

	// chunkSize is the size of each PCM chunk on the audio channel.
	chunkSize = 4096
)

// APIMode selects the Coqui server API.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// ParseAPIMode validates a mode name from configuration. Empty means standard.
func ParseAPIMode(s string) (APIMode, error) {
	switch APIMode(strings.ToLower(s)) {
	case "", APIModeStandard:
		return APIModeStandard, nil
	case APIModeXTTS:
		return APIModeXTTS, nil
	default:
		return "", fmt.Errorf("coqui: unknown api mode %q (want standard or xtts)", s)
	}
}

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent with every request. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server flavour. Default APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// WithSampleRate sets the rate PCM is resampled to. Default 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// WithHTTPClient replaces the HTTP client. The timeout option still applies.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// Provider talks to one Coqui server. It is safe for concurrent use.
type Provider struct {
	serverURL string
	language  string
	mode      APIMode
	rate      int
	client    *http.Client
}

// New creates a Provider for the server at serverURL, e.g.
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server url must not be empty")
	}
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("coqui: parse server url: %w", err)
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		mode:      APIModeStandard,
		rate:      defaultSampleRate,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// OutputFormat reports the label of the PCM this provider emits.
func (p *Provider) OutputFormat() string { return "pcm_" + strconv.Itoa(p.rate) }

// SynthesizeStream collects text until the channel closes, splits it into
// sentences and synthesises them one request at a time, in order. A failed
// request ends the stream early; the caller sees short audio.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" && p.mode == APIModeXTTS {
		return nil, errors.New("coqui: xtts mode requires a voice id")
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)

		var buf strings.Builder
		for collecting := true; collecting; {
			select {
			case <-ctx.Done():
				return
			case frag, ok := <-text:
				if !ok {
					collecting = false
					break
				}
				buf.WriteString(frag)
			}
		}

		for _, sentence := range splitSentences(buf.String()) {
			pcm, err := p.synthesize(ctx, sentence, voice.ID)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui: synthesis failed", "voice", voice.ID, "err", err)
				}
				return
			}
			for len(pcm) > 0 {
				n := min(chunkSize, len(pcm))
				select {
				case out <- pcm[:n]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[n:]
			}
		}
	}()
	return out, nil
}

// synthesize fetches one WAV and converts it to the configured PCM rate.
func (p *Provider) synthesize(ctx context.Context, sentence, voiceID string) ([]byte, error) {
	var req *http.Request
	var err error
	switch p.mode {
	case APIModeXTTS:
		body, merr := json.Marshal(map[string]string{
			"text":        sentence,
			"speaker_wav": voiceID,
			"language":    p.language,
		})
		if merr != nil {
			return nil, fmt.Errorf("coqui: marshal request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsTTSPath, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		q := url.Values{"text": {sentence}}
		if voiceID != "" {
			q.Set("speaker_id", voiceID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+standardTTSPath+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.do(req)
	if err != nil {
		return nil, err
	}
	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.dataOffset:]
	if info.channels != 1 || info.bitsPerSample != 16 {
		return nil, fmt.Errorf("coqui: unsupported wav layout: %d channels, %d bits", info.channels, info.bitsPerSample)
	}
	return resample(pcm, info.sampleRate, p.rate), nil
}

// ListVoices returns the speakers the server knows. A single-speaker model
// is reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	path := detailsPath
	if p.mode == APIModeXTTS {
		path = xttsSpeakerPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var names []string
	meta := map[string]string{}
	if p.mode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.Unmarshal(body, &speakers); err != nil {
			return nil, fmt.Errorf("coqui: decode speakers: %w", err)
		}
		for name := range speakers {
			names = append(names, name)
		}
		meta["type"] = "studio"
	} else {
		var details struct {
			ModelName string   `json:"model_name"`
			Speakers  []string `json:"speakers"`
		}
		if err := json.Unmarshal(body, &details); err != nil {
			return nil, fmt.Errorf("coqui: decode details: %w", err)
		}
		names = slices.Clone(details.Speakers)
		if len(names) == 0 {
			model := details.ModelName
			if model == "" {
				model = "default"
			}
			names = []string{model}
		}
		if details.ModelName != "" {
			meta["model_name"] = details.ModelName
		}
	}
	slices.Sort(names)

	voices := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		voices = append(voices, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: meta,
		})
	}
	return voices, nil
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("coqui: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	return data, nil
}

// splitSentences cuts s after '.', '!' or '?' when followed by whitespace or
// the end of the text, so "3.14" and "Dr.No" stay whole.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 == len(s) || unicode.IsSpace(rune(s[i+1])) {
				if part := strings.TrimSpace(s[start : i+1]); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

type wavInfo struct {
	dataOffset    int
	sampleRate    int
	channels      int
	bitsPerSample int
}

// parseWAV walks the RIFF chunks and returns the PCM offset and layout. The
// fmt chunk size varies between servers, so the offset is never assumed.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: response is not a RIFF/WAVE file")
	}
	info := wavInfo{sampleRate: 22050, channels: 1, bitsPerSample: 16}
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		switch id {
		case "fmt ":
			if size >= 16 && off+8+16 <= len(wav) {
				f := wav[off+8:]
				info.channels = int(binary.LittleEndian.Uint16(f[2:4]))
				info.sampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
				info.bitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			}
		case "data":
			info.dataOffset = off + 8
			return info, nil
		}
		off += 8 + size + size%2
	}
	return wavInfo{}, errors.New("coqui: wav has no data chunk")
}

// resample converts 16-bit little-endian mono PCM between rates by linear
// interpolation.
func resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	m := int(int64(n) * int64(to) / int64(from))
	out := make([]byte, m*2)
	ratio := float64(from) / float64(to)
	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	for i := range m {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		s0 := sample(j)
		s1 := s0
		if j+1 < n {
			s1 = sample(j + 1)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s0*(1-frac)+s1*frac)))
	}
	return out
}
