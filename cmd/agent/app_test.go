package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reelsync/reelsync-agent/internal/config"
	"github.com/reelsync/reelsync-agent/internal/logging"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
	"github.com/reelsync/reelsync-agent/internal/remote/httpstore"
	"github.com/reelsync/reelsync-agent/internal/syncer"
)

type mapRepo struct {
	values map[string]string
}

func (r *mapRepo) SaveProject(ctx context.Context, p *project.Project) error { return nil }
func (r *mapRepo) LoadProjects(ctx context.Context, limits project.TierLimits) ([]*project.Project, error) {
	return nil, nil
}
func (r *mapRepo) DeleteProject(ctx context.Context, id string) error { return nil }
func (r *mapRepo) GetConfig(ctx context.Context, key string) (string, error) {
	return r.values[key], nil
}
func (r *mapRepo) SetConfig(ctx context.Context, key, value string) error {
	r.values[key] = value
	return nil
}

func loadConfig(t *testing.T, env map[string]string) *config.EnvConfig {
	t.Helper()
	for _, k := range []string{config.EnvConfigFile, config.EnvRemoteURL, config.EnvRemoteDir, config.EnvUserID, config.EnvDataDir} {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config.New() error = %v", err)
	}
	return cfg
}

func TestEnsureConfigValue(t *testing.T) {
	repo := &mapRepo{values: map[string]string{}}
	ctx := context.Background()
	calls := 0
	gen := func() (string, error) {
		calls++
		return "generated", nil
	}

	first, err := ensureConfigValue(ctx, repo, "k", gen)
	if err != nil || first != "generated" {
		t.Fatalf("first = %q, %v", first, err)
	}
	second, err := ensureConfigValue(ctx, repo, "k", gen)
	if err != nil || second != "generated" {
		t.Fatalf("second = %q, %v", second, err)
	}
	if calls != 1 {
		t.Errorf("generator called %d times, want 1", calls)
	}

	_, err = ensureConfigValue(ctx, repo, "other", func() (string, error) { return "", errors.New("no entropy") })
	if err == nil {
		t.Error("generator error should propagate")
	}
	if _, ok := repo.values["other"]; ok {
		t.Error("failed generation should not store a value")
	}
}

func TestEnsureAuthToken(t *testing.T) {
	repo := &mapRepo{values: map[string]string{}}
	token, err := ensureAuthToken(context.Background(), repo)
	if err != nil {
		t.Fatalf("ensureAuthToken() error = %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}
}

func TestResolveIdentity(t *testing.T) {
	repo := &mapRepo{values: map[string]string{}}
	ctx := context.Background()

	cfg := loadConfig(t, map[string]string{config.EnvDisplayName: "Kim"})
	id, err := resolveIdentity(ctx, cfg, repo)
	if err != nil {
		t.Fatalf("resolveIdentity() error = %v", err)
	}
	if id.UserID == "" || id.DeviceID == "" || id.DisplayName != "Kim" {
		t.Errorf("identity = %+v", id)
	}
	again, _ := resolveIdentity(ctx, cfg, repo)
	if again != id {
		t.Errorf("identity changed across runs: %+v vs %+v", again, id)
	}

	cfg = loadConfig(t, map[string]string{config.EnvUserID: "fixed-user"})
	id, _ = resolveIdentity(ctx, cfg, repo)
	if id.UserID != "fixed-user" {
		t.Errorf("UserID = %q, want configured value", id.UserID)
	}
}

func TestOpenRemote(t *testing.T) {
	logger := logging.Discard()

	store, closeFn, err := openRemote(loadConfig(t, nil), "dev", logger)
	if err != nil {
		t.Fatalf("openRemote() error = %v", err)
	}
	if _, ok := store.(*remote.Memory); !ok {
		t.Errorf("no remote configured: got %T, want *remote.Memory", store)
	}
	closeFn()

	store, closeFn, err = openRemote(loadConfig(t, map[string]string{config.EnvRemoteURL: "http://remote.example:9000"}), "dev", logger)
	if err != nil {
		t.Fatalf("openRemote() error = %v", err)
	}
	if _, ok := store.(*httpstore.Client); !ok {
		t.Errorf("URL configured: got %T, want *httpstore.Client", store)
	}
	closeFn()

	dir := filepath.Join(t.TempDir(), "remote")
	store, closeFn, err = openRemote(loadConfig(t, map[string]string{config.EnvRemoteDir: dir}), "dev", logger)
	if err != nil {
		t.Fatalf("openRemote() error = %v", err)
	}
	defer closeFn()

	ctx := context.Background()
	if err := store.Set(ctx, "projects/p1/name", "Trip"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.PutBlob(ctx, remote.VideoPath("c1"), strings.NewReader("data"), "video/mp4"); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}
	data, err := store.GetBlob(ctx, remote.VideoPath("c1"), 1024)
	if err != nil || string(data) != "data" {
		t.Errorf("GetBlob() = %q, %v", data, err)
	}
}

func TestWriteProjects(t *testing.T) {
	snaps := []project.Snapshot{
		{ID: "p1", Name: "Trip", OwnerID: "me", Tier: project.TierFree, Limits: project.Limits{ClipLimit: 2}, UnseenCount: 1},
		{ID: "p2", Name: "Wedding", OwnerID: "other", Tier: project.TierUpgraded, Limits: project.Limits{ClipLimit: 100}},
	}

	var buf bytes.Buffer
	if err := writeProjects(&buf, snaps, "me"); err != nil {
		t.Fatalf("writeProjects() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "owner") || !strings.Contains(lines[1], "0/2") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "member") || !strings.Contains(lines[2], "upgraded") {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestWriteReports(t *testing.T) {
	var buf bytes.Buffer
	err := writeReports(&buf, map[string]syncer.Report{"p1": {MetadataPushed: 2}})
	if err != nil {
		t.Fatalf("writeReports() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"metadata_pushed": 2`) {
		t.Errorf("output = %s", buf.String())
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()
	want := map[string]bool{"serve": false, "sync": false, "projects": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
