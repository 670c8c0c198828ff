package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromBytes([]byte(`{}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.SocketPath, test.ShouldEqual, DefaultSocketPath)
	test.That(t, cfg.LogLevel, test.ShouldEqual, "info")
	test.That(t, cfg.Plugins, test.ShouldBeEmpty)
}

func TestFromBytes(t *testing.T) {
	cfg, err := FromBytes([]byte(`{
		"socket_path": "/tmp/sensord-test.sock",
		"session_bus": true,
		"plugins": ["accelerometer", "magnetometer"],
		"log_level": "debug",
		"adaptors": {"accelerometeradaptor": {"poll_interval": 50}}
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.SocketPath, test.ShouldEqual, "/tmp/sensord-test.sock")
	test.That(t, cfg.SessionBus, test.ShouldBeTrue)
	test.That(t, cfg.Plugins, test.ShouldResemble, []string{"accelerometer", "magnetometer"})
	test.That(t, cfg.Adaptors["accelerometeradaptor"]["poll_interval"], test.ShouldEqual, 50)

	_, err = FromBytes([]byte(`{"log_level": "loud"}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromBytes([]byte(`{`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWatcherReload(t *testing.T) {
	logger := golog.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "sensord.json")
	test.That(t, os.WriteFile(path, []byte(`{"log_level":"info"}`), 0o644), test.ShouldBeNil)

	var mu sync.Mutex
	var got []*Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	test.That(t, os.WriteFile(path, []byte(`{"log_level":"debug"}`), 0o644), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, got, test.ShouldNotBeEmpty)
		test.That(tb, got[len(got)-1].LogLevel, test.ShouldEqual, "debug")
	})

	// a broken rewrite is ignored
	mu.Lock()
	seen := len(got)
	mu.Unlock()
	test.That(t, os.WriteFile(path, []byte(`{"log_level":`), 0o644), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, []byte(`{"log_level":"warn"}`), 0o644), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, len(got), test.ShouldBeGreaterThan, seen)
		test.That(tb, got[len(got)-1].LogLevel, test.ShouldEqual, "warn")
	})
}
