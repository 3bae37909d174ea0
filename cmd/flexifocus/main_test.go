package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FLEXIFOCUS_CONFIG", filepath.Join(dir, "absent.yaml"))
	t.Setenv("FLEXIFOCUS_DB_PATH", filepath.Join(dir, "data", "flexifocus.db"))
	t.Setenv("FLEXIFOCUS_LOG_LEVEL", "error")
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "flexifocus dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestMethodsCmd(t *testing.T) {
	out, err := runCmd(t, "methods")
	if err != nil {
		t.Fatalf("methods command failed: %v", err)
	}
	for _, key := range []string{"pomodoro", "fifty-two", "ultradian", "desktime", "flowtime"} {
		if !strings.Contains(out, key) {
			t.Errorf("methods output missing %s:\n%s", key, out)
		}
	}
}

func TestMigrateCmd(t *testing.T) {
	isolate(t)
	out, err := runCmd(t, "migrate")
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "001_kv_store.sql") {
		t.Errorf("expected applied migration in output, got: %s", out)
	}
}

func TestTokenCmd(t *testing.T) {
	isolate(t)
	out, err := runCmd(t, "token", "--client", "cli")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("expected a JWT, got %q", out)
	}
}

func TestSendLocal(t *testing.T) {
	isolate(t)

	if _, err := runCmd(t, "send", "--local", "addTask", `{"title":"Write report","estimate":2}`); err != nil {
		t.Fatalf("addTask failed: %v", err)
	}
	out, err := runCmd(t, "send", "--local", "getState")
	if err != nil {
		t.Fatalf("getState failed: %v", err)
	}
	var view struct {
		State struct {
			Tasks []struct {
				Title string `json:"title"`
			} `json:"tasks"`
		} `json:"state"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(view.State.Tasks) != 1 || view.State.Tasks[0].Title != "Write report" {
		t.Fatalf("task not persisted across invocations: %+v", view.State.Tasks)
	}

	if _, err := runCmd(t, "send", "--local", "launchRocket"); err == nil || !strings.Contains(err.Error(), "unknown_command") {
		t.Fatalf("expected unknown_command error, got %v", err)
	}
	if _, err := runCmd(t, "send", "--local", "addTask", `{"title":`); err == nil {
		t.Fatal("expected invalid JSON payload to be rejected")
	}
}

func TestSendRemote(t *testing.T) {
	isolate(t)

	var gotType, gotAuth string
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotType = body.Type
		gotAuth = r.Header.Get("Authorization")
		if body.Type == "pauseTimer" {
			w.WriteHeader(http.StatusLocked)
			w.Write([]byte(`{"error":{"code":"lock_in_active","message":"locked"}}`))
			return
		}
		w.Write([]byte(`{"result":{"ok":true}}`))
	}))
	defer daemon.Close()

	u, _ := url.Parse(daemon.URL)
	t.Setenv("FLEXIFOCUS_PORT", u.Port())

	out, err := runCmd(t, "send", "resumeTimer")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotType != "resumeTimer" || !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("daemon saw type=%q auth=%q", gotType, gotAuth)
	}
	if !strings.Contains(out, `"ok": true`) {
		t.Fatalf("unexpected output: %s", out)
	}

	if _, err := runCmd(t, "send", "pauseTimer"); err == nil || !strings.Contains(err.Error(), "lock_in_active") {
		t.Fatalf("expected lock_in_active error, got %v", err)
	}
}
