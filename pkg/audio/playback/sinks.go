package playback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/duologue/pkg/audio"
)

// Discard is a sink that drops every clip.
var Discard audio.Sink = audio.SinkFunc(func(context.Context, audio.Clip) error { return nil })

// DirSink writes each clip to its own file, named "<NNN>-<speaker>.<ext>",
// in the order clips are written.
type DirSink struct {
	dir string

	mu sync.Mutex
	n  int
}

// NewDirSink creates dir if needed and returns a sink writing into it.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("playback: create %s: %w", dir, err)
	}
	return &DirSink{dir: dir}, nil
}

// Write implements [audio.Sink].
func (s *DirSink) Write(_ context.Context, clip audio.Clip) error {
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()

	speaker := strings.ReplaceAll(clip.Speaker, string(filepath.Separator), "_")
	if speaker == "" {
		speaker = "unknown"
	}
	name := fmt.Sprintf("%03d-%s.%s", n, speaker, audio.ParseFormat(clip.Format).Extension())
	if err := os.WriteFile(filepath.Join(s.dir, name), clip.Data, 0o644); err != nil {
		return fmt.Errorf("playback: write %s: %w", name, err)
	}
	return nil
}
