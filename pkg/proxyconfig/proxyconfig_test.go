package proxyconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workspaces.yaml")
	return New(path, "workspaces.example.com", "http://app:8080/api/auth/verify", "secure-headers", "rate-limit"), path
}

func TestAddWorkspaceRoute(t *testing.T) {
	m, path := newManager(t)

	if err := m.AddWorkspaceRoute("acme-x", 20000); err != nil {
		t.Fatalf("AddWorkspaceRoute() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}

	has, err := m.HasWorkspaceRoute("acme-x")
	if err != nil {
		t.Fatalf("HasWorkspaceRoute() error = %v", err)
	}
	if !has {
		t.Fatal("expected router to exist after AddWorkspaceRoute")
	}

	doc, err := m.load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	router, ok := doc.HTTP.Routers["workspace-acme-x"]
	if !ok {
		t.Fatal("expected router workspace-acme-x")
	}
	if router.Rule != "Host(`acme-x.workspaces.example.com`)" {
		t.Errorf("Rule = %q, want Host(`acme-x.workspaces.example.com`)", router.Rule)
	}
	if len(router.Middlewares) < 2 || router.Middlewares[0] != "workspace-acme-x-headers" || router.Middlewares[1] != "forward-auth" {
		t.Errorf("Middlewares = %v, want workspace-headers before forward-auth", router.Middlewares)
	}

	svc, ok := doc.HTTP.Services["workspace-acme-x"]
	if !ok {
		t.Fatal("expected service workspace-acme-x")
	}
	if len(svc.LoadBalancer.Servers) != 1 || svc.LoadBalancer.Servers[0].URL != "http://127.0.0.1:20000" {
		t.Errorf("Servers = %v, want one server at 127.0.0.1:20000", svc.LoadBalancer.Servers)
	}
}

func TestRemoveWorkspaceRoute(t *testing.T) {
	m, _ := newManager(t)

	if err := m.AddWorkspaceRoute("acme-x", 20000); err != nil {
		t.Fatalf("AddWorkspaceRoute() error = %v", err)
	}
	if err := m.RemoveWorkspaceRoute("acme-x"); err != nil {
		t.Fatalf("RemoveWorkspaceRoute() error = %v", err)
	}

	has, err := m.HasWorkspaceRoute("acme-x")
	if err != nil {
		t.Fatalf("HasWorkspaceRoute() error = %v", err)
	}
	if has {
		t.Fatal("expected router to be gone after RemoveWorkspaceRoute")
	}
}

func TestRemoveWorkspaceRoute_Missing(t *testing.T) {
	m, _ := newManager(t)

	if err := m.RemoveWorkspaceRoute("never-existed"); err != nil {
		t.Fatalf("RemoveWorkspaceRoute() on missing route should be a no-op, got error = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	m, _ := newManager(t)

	doc, err := m.load()
	if err != nil {
		t.Fatalf("load() on missing file error = %v", err)
	}
	if doc.HTTP.Routers == nil || doc.HTTP.Services == nil || doc.HTTP.Middlewares == nil {
		t.Fatal("expected load() to tolerate a missing file with initialized maps")
	}
}
