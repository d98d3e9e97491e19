package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return runCLIWithInput(t, "", args...)
}

func runCLIWithInput(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runCLI(t, "-version")
	if code != 0 || !strings.HasPrefix(out, "walletlink version=") {
		t.Fatalf("unexpected version output %d %q", code, out)
	}
}

func TestRunUsageErrors(t *testing.T) {
	t.Setenv("WALLETLINK_APP_URL", "https://example.app")
	state := filepath.Join(t.TempDir(), "session.json")
	for _, args := range [][]string{
		{},
		{"-state", state, "bogus"},
		{"-state", state, "handle"},
		{"-state", state, "sign-message"},
	} {
		if code, _, _ := runCLI(t, args...); code != 2 {
			t.Fatalf("args %v: expected exit 2, got %d", args, code)
		}
	}
}

func TestRunConnectThenStatus(t *testing.T) {
	t.Setenv("WALLETLINK_APP_URL", "https://example.app")
	state := filepath.Join(t.TempDir(), "session.json")

	code, out, errOut := runCLI(t, "-state", state, "-print-only", "connect")
	if code != 0 {
		t.Fatalf("connect exited %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "https://phantom.app/ul/v1/connect?dapp_encryption_public_key=") {
		t.Fatalf("unexpected connect url %q", out)
	}

	code, out, errOut = runCLI(t, "-state", state, "status")
	if code != 0 {
		t.Fatalf("status exited %d: %s", code, errOut)
	}
	var status struct {
		State         string `json:"state"`
		DappPublicKey string `json:"dapp_public_key"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "disconnected" || status.DappPublicKey == "" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunHandleRemoteError(t *testing.T) {
	t.Setenv("WALLETLINK_APP_URL", "https://example.app")
	state := filepath.Join(t.TempDir(), "session.json")

	code, out, errOut := runCLI(t, "-state", state, "handle", "myapp://onConnect?errorCode=4001&errorMessage=User+rejected")
	if code != 0 {
		t.Fatalf("handle exited %d: %s", code, errOut)
	}
	var ev eventJSON
	if err := json.Unmarshal([]byte(out), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Kind != "remote_error" || ev.ErrorCode != "4001" || ev.Error == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRunSignWithoutSessionFails(t *testing.T) {
	t.Setenv("WALLETLINK_APP_URL", "https://example.app")
	state := filepath.Join(t.TempDir(), "session.json")

	code, out, errOut := runCLI(t, "-state", state, "-print-only", "sign-message", "hello")
	if code != 1 || out != "" {
		t.Fatalf("expected failure without output, got %d %q", code, out)
	}
	if !strings.Contains(errOut, "precondition") {
		t.Fatalf("expected precondition category, got %q", errOut)
	}
}

func TestRunListenHandlesPipedRedirects(t *testing.T) {
	t.Setenv("WALLETLINK_APP_URL", "https://example.app")
	state := filepath.Join(t.TempDir(), "session.json")

	input := "myapp://onConnect?errorCode=4001&errorMessage=User+rejected\n\nmyapp://onConnect?errorCode=-32603&errorMessage=Internal\n"
	code, out, errOut := runCLIWithInput(t, input, "-state", state, "listen")
	if code != 0 {
		t.Fatalf("listen exited %d: %s", code, errOut)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two events, got %q", out)
	}
	for i, want := range []string{"4001", "-32603"} {
		var ev eventJSON
		if err := json.Unmarshal([]byte(lines[i]), &ev); err != nil {
			t.Fatalf("decode event %d: %v", i, err)
		}
		if ev.Kind != "remote_error" || ev.ErrorCode != want {
			t.Fatalf("event %d: unexpected %+v", i, ev)
		}
	}
}

func TestRunStatusWithTruncatedStateFile(t *testing.T) {
	t.Setenv("WALLETLINK_APP_URL", "https://example.app")
	state := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(state, []byte(`{"version":1,"state":"connec`), 0o600); err != nil {
		t.Fatalf("write state: %v", err)
	}

	code, out, errOut := runCLI(t, "-state", state, "status")
	if code != 0 {
		t.Fatalf("status exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, `"state":"disconnected"`) {
		t.Fatalf("unexpected status %q", out)
	}
	if !strings.Contains(errOut, "discarding session snapshot") {
		t.Fatalf("expected a warning about the discarded snapshot, got %q", errOut)
	}
}

func TestRunReportsMetricsFlushFailure(t *testing.T) {
	t.Setenv("WALLETLINK_APP_URL", "https://example.app")
	dir := t.TempDir()
	t.Setenv("WALLETLINK_METRICS_TEXTFILE", filepath.Join(dir, "missing", "walletlink.prom"))

	code, _, errOut := runCLI(t, "-state", filepath.Join(dir, "session.json"), "status")
	if code != 1 || !strings.Contains(errOut, "flush metrics") {
		t.Fatalf("expected flush failure exit 1, got %d %q", code, errOut)
	}
}
