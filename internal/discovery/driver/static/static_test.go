package static

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/talkie-project/talkie/pkg/discovery"
)

func TestRegisterListDeregister(t *testing.T) {
	d := New(nil)
	ctx := context.Background()

	err := d.Register(ctx, &discovery.Registration{
		Service: "speech",
		ID:      "speech-1",
		Address: "10.0.0.1",
		Port:    8001,
		Tags:    []string{"talkie", "module"},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	instances, err := d.ListHealthy(ctx, "speech", "")
	if err != nil {
		t.Fatalf("ListHealthy failed: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(instances))
	}
	if got := instances[0].URL("http"); got != "http://10.0.0.1:8001" {
		t.Errorf("Expected instance URL http://10.0.0.1:8001, got %s", got)
	}

	if err := d.Deregister(ctx, "speech-1"); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	instances, _ = d.ListHealthy(ctx, "speech", "")
	if len(instances) != 0 {
		t.Errorf("Expected no instances after deregister, got %d", len(instances))
	}
}

func TestDeregisterUnknownInstance(t *testing.T) {
	d := New(nil)
	if err := d.Deregister(context.Background(), "ghost"); err == nil {
		t.Error("Expected error deregistering unknown instance")
	}
}

func TestTagFilter(t *testing.T) {
	d := New([]*discovery.ServiceInstance{
		{ID: "a", Service: "rag", Address: "h1", Port: 1, Tags: []string{"gpu"}},
		{ID: "b", Service: "rag", Address: "h2", Port: 2, Tags: []string{"cpu"}},
	})

	instances, err := d.ListHealthy(context.Background(), "rag", "gpu")
	if err != nil {
		t.Fatalf("ListHealthy failed: %v", err)
	}
	if len(instances) != 1 || instances[0].ID != "a" {
		t.Errorf("Expected only tagged instance a, got %v", instances)
	}

	instances, _ = d.ListHealthy(context.Background(), "rag", "")
	if len(instances) != 2 {
		t.Errorf("Expected 2 instances without tag filter, got %d", len(instances))
	}
}

func TestListUnknownService(t *testing.T) {
	d := New(nil)
	instances, err := d.ListHealthy(context.Background(), "missing", "")
	if err != nil {
		t.Fatalf("Expected empty result, got error %v", err)
	}
	if len(instances) != 0 {
		t.Errorf("Expected empty list, got %d", len(instances))
	}
}

func TestFromFile(t *testing.T) {
	content := `
services:
  speech:
    instances:
      - id: speech-1
        host: 10.0.0.1
        port: 8001
        tags: [talkie]
      - host: 10.0.0.2
        port: 8001
  browser:
    instances:
      - id: browser-1
        host: localhost
        port: 8003
`
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}

	instances, err := d.ListHealthy(context.Background(), "speech", "")
	if err != nil {
		t.Fatalf("ListHealthy failed: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("Expected 2 speech instances, got %d", len(instances))
	}

	ids := []string{instances[0].ID, instances[1].ID}
	sort.Strings(ids)
	// The second instance gets a generated id.
	if ids[0] != "speech-1" && ids[1] != "speech-1" {
		t.Errorf("Expected configured id speech-1 to be kept, got %v", ids)
	}
}

func TestFromFileRejectsInvalidInstance(t *testing.T) {
	content := `
services:
  speech:
    instances:
      - host: ""
        port: 8001
`
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := FromFile(path); err == nil {
		t.Error("Expected error for instance without host")
	}
}
