package config_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hush/internal/config"
)

const baseYAML = `
server:
  log_level: info
detector:
  threshold_db: -70
`

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		next        string
		wantChanged bool
		wantErr     bool
		wantDiff    config.ConfigDiff
	}{
		{
			name:        "threshold and level",
			next:        "server:\n  log_level: debug\ndetector:\n  threshold_db: -55\n",
			wantChanged: true,
			wantDiff: config.ConfigDiff{
				LogLevelChanged: true, NewLogLevel: config.LogDebug,
				ThresholdChanged: true, NewThresholdDB: -55,
			},
		},
		{
			name:        "restart only",
			next:        baseYAML + "telemetry:\n  service_name: hush-edge\n",
			wantChanged: true,
			wantDiff:    config.ConfigDiff{RestartRequired: []string{"telemetry"}},
		},
		{
			name: "comment only",
			next: "# tuned for the studio\n" + baseYAML,
		},
		{
			name: "unchanged",
			next: baseYAML,
		},
		{
			name:    "invalid level",
			next:    "server:\n  log_level: bananas\n",
			wantErr: true,
		},
		{
			name:    "unknown key",
			next:    baseYAML + "detektor:\n  step_size: 512\n",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, baseYAML)
			rec := &reloads{}
			w, err := config.NewWatcher(path, rec.record)
			if err != nil {
				t.Fatalf("NewWatcher: %v", err)
			}
			before := w.Current()

			writeFile(t, path, tc.next)
			changed, err := w.Reload()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Reload() error = %v, wantErr %v", err, tc.wantErr)
			}
			if changed != tc.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tc.wantChanged)
			}

			got := rec.all()
			if !tc.wantChanged {
				if len(got) != 0 {
					t.Errorf("callback fired %d times for a no-op change", len(got))
				}
				if tc.wantErr && w.Current() != before {
					t.Error("rejected file replaced the active config")
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("callback fired %d times, want 1", len(got))
			}
			if got[0].old != before || got[0].new != w.Current() {
				t.Error("callback configs do not match the previous and active config")
			}
			assertDiff(t, got[0].diff, tc.wantDiff)
		})
	}
}

func TestWatcher_ErrClearsAfterFix(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, baseYAML)
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Err() != nil {
		t.Fatalf("Err() after initial load = %v", w.Err())
	}

	writeFile(t, path, "detector:\n  step_size: 2\n")
	if _, err := w.Reload(); err == nil {
		t.Fatal("Reload() accepted step_size 2")
	}
	if w.Err() == nil {
		t.Error("Err() = nil after a rejected reload")
	}
	if w.Current().Detector.StepSize != 1024 {
		t.Errorf("active step size = %d, want the previous 1024", w.Current().Detector.StepSize)
	}

	writeFile(t, path, "detector:\n  step_size: 512\n")
	if changed, err := w.Reload(); err != nil || !changed {
		t.Fatalf("Reload() = %v, %v after fixing the file", changed, err)
	}
	if w.Err() != nil {
		t.Errorf("Err() = %v after a good reload", w.Err())
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Reload(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Reload() of a deleted file = %v, want ErrNotExist", err)
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, baseYAML)
	rec := &reloads{notify: make(chan struct{}, 1)}
	w, err := config.NewWatcher(path, rec.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Touching the file alone does not reach the callback.
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "stream:\n  max_sessions: 8\n")

	select {
	case <-rec.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not pick up the change")
	}
	if got := rec.all(); len(got) != 1 || !got[0].diff.StreamChanged {
		t.Errorf("reloads = %+v, want one stream change", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestWatcher_LogsEachFailureOnce(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, baseYAML)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf}, nil))
	w, err := config.NewWatcher(path, nil, config.WithWatcherLogger(logger))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	writeFile(t, path, "server:\n  log_level: bananas\n")
	for range 3 {
		_, _ = w.Reload()
	}
	writeFile(t, path, "detector:\n  threshold_db: 3\n")
	_, _ = w.Reload()

	if n := strings.Count(buf.String(), "config change rejected"); n != 2 {
		t.Errorf("logged %d rejections, want 2 (one per distinct failure):\n%s", n, buf.String())
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file: err = %v, want ErrNotExist", err)
	}
	bad := writeConfig(t, "detector:\n  threshold_db: 12\n")
	if _, err := config.NewWatcher(bad, nil); err == nil {
		t.Error("invalid file: expected error")
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

type reload struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// reloads collects ReloadFunc calls.
type reloads struct {
	mu     sync.Mutex
	got    []reload
	notify chan struct{}
}

func (r *reloads) record(old, new *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.got = append(r.got, reload{old, new, d})
	r.mu.Unlock()
	if r.notify != nil {
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
}

func (r *reloads) all() []reload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reload(nil), r.got...)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hush.yaml")
	writeFile(t, path, content)
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func assertDiff(t *testing.T, got, want config.ConfigDiff) {
	t.Helper()
	if got.LogLevelChanged != want.LogLevelChanged || got.NewLogLevel != want.NewLogLevel {
		t.Errorf("log level diff = %v %q, want %v %q", got.LogLevelChanged, got.NewLogLevel, want.LogLevelChanged, want.NewLogLevel)
	}
	if got.ThresholdChanged != want.ThresholdChanged || got.NewThresholdDB != want.NewThresholdDB {
		t.Errorf("threshold diff = %v %v, want %v %v", got.ThresholdChanged, got.NewThresholdDB, want.ThresholdChanged, want.NewThresholdDB)
	}
	if got.DetectorChanged != want.DetectorChanged || got.StreamChanged != want.StreamChanged {
		t.Errorf("detector/stream diff = %v/%v, want %v/%v", got.DetectorChanged, got.StreamChanged, want.DetectorChanged, want.StreamChanged)
	}
	if len(got.RestartRequired) != len(want.RestartRequired) {
		t.Fatalf("restart required = %v, want %v", got.RestartRequired, want.RestartRequired)
	}
	for i := range got.RestartRequired {
		if got.RestartRequired[i] != want.RestartRequired[i] {
			t.Errorf("restart required = %v, want %v", got.RestartRequired, want.RestartRequired)
		}
	}
}
