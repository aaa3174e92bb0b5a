package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/sweepsim/internal/pathutil"
)

const testCatalog = `
encounters:
  - {id: dummy, name: Training Dummy, level: 1, hitpoints: 1, max_hit: 0, attack_interval_ms: 2400}
  - {id: warden, name: Vault Warden, level: 30, hitpoints: 400, max_hit: 20, attack_interval_ms: 2400, requires: vault-key}
zones:
  - id: yard
    encounters: [dummy]
  - id: vault
    requires: vault-key
    encounters: [warden]
instances:
  - id: drill
    members: [dummy]
task_sets:
  - {id: beginner, min_level: 1, max_level: 10}
`

// setupCLI writes a catalog and config into a temp dir, isolates HOME, and
// returns the config path.
func setupCLI(t *testing.T) (cfgPath, home string) {
	t.Helper()
	tmpDir := t.TempDir()
	home = filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(home, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", home)
	for _, env := range []string{"SWEEPSIM_WORKERS", "SWEEPSIM_TRIALS", "SWEEPSIM_TICKS", "SWEEPSIM_TRACK_HISTORY", "SWEEPSIM_CATALOG", "SWEEPSIM_LOG_LEVEL"} {
		t.Setenv(env, "")
	}

	catPath := filepath.Join(tmpDir, "catalog.yaml")
	if err := os.WriteFile(catPath, []byte(testCatalog), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg := "sweep:\n  workers: 2\n  trials: 5\n  ticks: 10000\n  seed: 7\n" +
		"catalog:\n  path: " + catPath + "\n" +
		"logging:\n  level: info\n  dir: " + filepath.Join(tmpDir, "logs") + "\n"
	cfgPath = filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return cfgPath, home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestConfigGet(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "sweep.trials", want: "sweep.trials = 5"},
		{key: "sweep.workers", want: "sweep.workers = 2"},
		{key: "server.addr", want: "server.addr = 127.0.0.1:8740"},
		{key: "sweep.nope", wantErr: true},
		{key: "sweep.trials.deeper", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			out, err := execute(t, "--config", cfgPath, "config", "get", tt.key)
			if tt.wantErr {
				if err == nil {
					t.Errorf("config get %s: expected error, got %q", tt.key, out)
				}
				return
			}
			if err != nil {
				t.Fatalf("config get %s error = %v", tt.key, err)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("config get %s = %q, want %q", tt.key, strings.TrimSpace(out), tt.want)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	cfgPath, home := setupCLI(t)

	out, err := execute(t, "config", "path")
	if err != nil {
		t.Fatalf("config path error = %v", err)
	}
	if want := filepath.Join(home, ".sweepsim", "config.yaml"); strings.TrimSpace(out) != want {
		t.Errorf("config path = %q, want %q", strings.TrimSpace(out), want)
	}

	out, err = execute(t, "--config", cfgPath, "config", "path")
	if err != nil {
		t.Fatalf("config path error = %v", err)
	}
	if strings.TrimSpace(out) != cfgPath {
		t.Errorf("config path = %q, want %q", strings.TrimSpace(out), cfgPath)
	}
}

func TestConfigList_InvalidConfig(t *testing.T) {
	setupCLI(t)
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("sweep:\n  trials: -1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", bad, "config", "list"); err == nil {
		t.Error("expected validation error for negative trials")
	}
}

func TestCatalogCmd_JSON(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	out, err := execute(t, "--config", cfgPath, "catalog", "--json")
	if err != nil {
		t.Fatalf("catalog error = %v", err)
	}
	var got struct {
		Encounters []struct {
			ID string `json:"id"`
		} `json:"encounters"`
		TaskSets []struct {
			ID      string   `json:"id"`
			Members []string `json:"members"`
		} `json:"task_sets"`
		Fightable map[string]bool `json:"fightable"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got.Encounters) != 2 {
		t.Errorf("len(encounters) = %d, want 2", len(got.Encounters))
	}
	if !got.Fightable["dummy"] || got.Fightable["warden"] {
		t.Errorf("fightable = %v, want dummy only", got.Fightable)
	}
	if len(got.TaskSets) != 1 || len(got.TaskSets[0].Members) != 1 || got.TaskSets[0].Members[0] != "dummy" {
		t.Errorf("task_sets = %+v, want beginner with dummy", got.TaskSets)
	}
}

type sweepOutput struct {
	Status struct {
		Completed int  `json:"completed"`
		Total     int  `json:"total"`
		Done      bool `json:"done"`
		Cancelled bool `json:"cancelled"`
	} `json:"status"`
	Snapshot struct {
		Encounters []struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			Telemetry struct {
				SimSuccess      bool     `json:"sim_success"`
				KillTimeSeconds *float64 `json:"kill_time_seconds"`
			} `json:"telemetry"`
		} `json:"encounters"`
		Groups []struct {
			ID        string `json:"id"`
			Telemetry struct {
				SimSuccess bool `json:"sim_success"`
			} `json:"telemetry"`
		} `json:"groups"`
	} `json:"snapshot"`
}

func TestSweepCmd_Encounter(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	out, err := execute(t, "--config", cfgPath, "sweep", "--scope", "encounter:dummy", "--json")
	if err != nil {
		t.Fatalf("sweep error = %v", err)
	}
	var got sweepOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if !got.Status.Done || got.Status.Cancelled || got.Status.Completed != 1 || got.Status.Total != 1 {
		t.Errorf("status = %+v, want done 1/1", got.Status)
	}
	if len(got.Snapshot.Encounters) != 1 {
		t.Fatalf("len(encounters) = %d, want 1", len(got.Snapshot.Encounters))
	}
	e := got.Snapshot.Encounters[0]
	if e.ID != "dummy" || e.Status != "success" || !e.Telemetry.SimSuccess {
		t.Errorf("encounter = %+v, want successful dummy", e)
	}
	if e.Telemetry.KillTimeSeconds == nil || *e.Telemetry.KillTimeSeconds <= 0 {
		t.Errorf("kill_time_seconds = %v, want positive", e.Telemetry.KillTimeSeconds)
	}
}

func TestSweepCmd_InstanceAggregates(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	out, err := execute(t, "--config", cfgPath, "sweep", "--scope", "instance:drill", "--json")
	if err != nil {
		t.Fatalf("sweep error = %v", err)
	}
	var got sweepOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got.Snapshot.Encounters) != 1 || got.Snapshot.Encounters[0].ID != "drill/dummy" {
		t.Errorf("encounters = %+v, want drill/dummy", got.Snapshot.Encounters)
	}
	var found bool
	for _, g := range got.Snapshot.Groups {
		if g.ID == "drill" {
			found = true
			if !g.Telemetry.SimSuccess {
				t.Error("drill group should succeed")
			}
		}
	}
	if !found {
		t.Errorf("groups = %+v, want drill", got.Snapshot.Groups)
	}
}

func TestSweepCmd_Table(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	out, err := execute(t, "--config", cfgPath, "sweep", "--scope", "instance:drill")
	if err != nil {
		t.Fatalf("sweep error = %v", err)
	}
	for _, want := range []string{"instance:drill", "drill/dummy", "GROUP", "success"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestSweepCmd_Errors(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad scope", []string{"--scope", "zone:yard"}},
		{"unknown encounter", []string{"--scope", "encounter:dragon"}},
		{"missing agent file", []string{"--agent", "/nonexistent/agent.yaml"}},
		{"negative trials", []string{"--trials", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfgPath, "sweep", "--json"}, tt.args...)
			if _, err := execute(t, args...); err == nil {
				t.Errorf("sweep %v: expected error", tt.args)
			}
		})
	}
}

func TestSweepCmd_Output(t *testing.T) {
	cfgPath, home := setupCLI(t)

	out := filepath.Join(home, ".sweepsim", "exports", "dummy.json")
	if _, err := execute(t, "--config", cfgPath, "sweep", "--scope", "encounter:dummy", "--output", out); err != nil {
		t.Fatalf("sweep error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	var got sweepOutput
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid export JSON: %v", err)
	}
	if !got.Status.Done {
		t.Error("exported status should be done")
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("export permissions = %o, want 0600", perm)
	}
}

func TestSweepCmd_OutputOutsideAllowed(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	outside := filepath.Join(t.TempDir(), "escape.json")
	_, err := execute(t, "--config", cfgPath, "sweep", "--scope", "encounter:dummy", "--output", outside)
	if !errors.Is(err, pathutil.ErrOutsideAllowed) {
		t.Errorf("error = %v, want ErrOutsideAllowed", err)
	}
}

func TestLoadAgent(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "default", path: "", want: "novice"},
		{name: "valid", path: write("ok.yaml", "name: ranger\nlevel: 20\nmax_hitpoints: 40\nattack_interval_ms: 1800\nmax_hit: 9\n"), want: "ranger"},
		{name: "no hitpoints", path: write("nohp.yaml", "name: ghost\nattack_interval_ms: 1800\n"), wantErr: true},
		{name: "bad yaml", path: write("bad.yaml", "name: [unterminated\n"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadAgent(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadAgent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Name != tt.want {
				t.Errorf("Name = %q, want %q", got.Name, tt.want)
			}
		})
	}
}
