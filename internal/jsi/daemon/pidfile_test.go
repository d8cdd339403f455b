package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")

	if err := writePIDFile(path, 4242); err != nil {
		t.Fatal(err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != 4242 {
		t.Errorf("unexpected pid; actual: %d, expected: 4242", pid)
	}
}

func TestReadPIDFile(t *testing.T) {
	tests := map[string]struct {
		content string
		expErr  bool
	}{
		"valid":      {content: "123\n", expErr: false},
		"padded":     {content: "  123  \n", expErr: false},
		"garbage":    {content: "not-a-pid\n", expErr: true},
		"empty file": {content: "", expErr: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "server.pid")
			if err := os.WriteFile(path, []byte(test.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := readPIDFile(path)
			if (err != nil) != test.expErr {
				t.Errorf("unexpected result; error: %v, expected error: %t", err, test.expErr)
			}
		})
	}
}

func TestAlive(t *testing.T) {
	if !alive(os.Getpid()) {
		t.Error("expected own pid to be alive")
	}
	if alive(0) {
		t.Error("expected pid 0 to not be alive")
	}
	// PID max on Linux is at most 4194304; beyond it no process exists.
	if alive(1 << 30) {
		t.Error("expected out-of-range pid to not be alive")
	}
}

func TestConnectable(t *testing.T) {
	if connectable(filepath.Join(t.TempDir(), "absent.sock")) {
		t.Error("expected absent socket to not be connectable")
	}
}
