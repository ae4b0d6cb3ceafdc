package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "azwebvm.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	return path
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("ARM_SUBSCRIPTION_ID", "")
	writeConfig(t, `project: azure-test
provider:
  type: azure
`)

	cfg, err := Load()
	if err == nil {
		t.Error("Expected error for missing subscription ID, but got none")
	}
	if cfg != nil {
		t.Error("Expected config to be nil when validation fails")
	}
}

func TestLoadDefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("ARM_SUBSCRIPTION_ID", "00000000-0000-0000-0000-000000000001")
	t.Setenv("ARM_CLIENT_SECRET", "s3cr3t")
	t.Setenv("AZWEBVM_STACK", "prod")
	t.Setenv("AZ_LOCATION", "westeurope")
	writeConfig(t, `stacks:
  prod:
    azure-test:location: ${AZ_LOCATION}
    azure-test:username: testadmin
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Project != DefaultProject {
		t.Errorf("Expected project %s, got %s", DefaultProject, cfg.Project)
	}
	if cfg.Stack != "prod" {
		t.Errorf("Expected stack prod, got %s", cfg.Stack)
	}
	if cfg.Parallel != DefaultParallel {
		t.Errorf("Expected parallel %d, got %d", DefaultParallel, cfg.Parallel)
	}
	if cfg.Provider.Azure.SubscriptionID != "00000000-0000-0000-0000-000000000001" {
		t.Errorf("Subscription override not applied: %q", cfg.Provider.Azure.SubscriptionID)
	}
	if cfg.Provider.Azure.ClientSecret != "s3cr3t" {
		t.Error("Client secret override not applied")
	}
	if cfg.Backend.File == nil || cfg.Backend.File.Dir != DefaultStateDir {
		t.Errorf("Expected file backend under %s", DefaultStateDir)
	}

	bag := cfg.Bag()
	if v, _ := bag.Get("location"); v != "westeurope" {
		t.Errorf("Expected expanded location westeurope, got %q", v)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("ARM_SUBSCRIPTION_ID", "sub")
	t.Setenv("AZWEBVM_STACK", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Stack != DefaultStack || cfg.Provider.Type != ProviderAzure || cfg.Backend.Type != BackendFile {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}

func TestValidateDiscriminatedUnions(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "memory provider and memory backend",
			body: "provider:\n  type: memory\nbackend:\n  type: memory\n",
		},
		{
			name:    "unknown provider",
			body:    "provider:\n  type: gcp\n",
			wantErr: true,
		},
		{
			name:    "etcd backend without endpoints",
			body:    "provider:\n  type: memory\nbackend:\n  type: etcd\n",
			wantErr: true,
		},
		{
			name: "etcd backend",
			body: "provider:\n  type: memory\nbackend:\n  type: etcd\n  etcd:\n    endpoints: [\"localhost:2379\"]\n",
		},
		{
			name:    "s3 backend without bucket",
			body:    "provider:\n  type: memory\nbackend:\n  type: s3\n  s3:\n    region: eu-west-1\n",
			wantErr: true,
		},
		{
			name:    "etcd key store without endpoints",
			body:    "provider:\n  type: memory\nssh:\n  key_store: etcd\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := LoadFile(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadFile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBag(t *testing.T) {
	bag := NewBag("azure-test", map[string]string{
		"azure-test:username": "testadmin",
		"azure-test:password": "",
		"other:username":      "someone",
	})

	if v, err := bag.Require("username"); err != nil || v != "testadmin" {
		t.Errorf("Require(username) = %q, %v", v, err)
	}
	if v, err := bag.Require("other:username"); err != nil || v != "someone" {
		t.Errorf("Require(other:username) = %q, %v", v, err)
	}

	_, err := bag.Require("password")
	var missing *MissingKeyError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingKeyError for empty value, got %v", err)
	}
	if missing.Key != "azure-test:password" {
		t.Errorf("Expected fully qualified key, got %s", missing.Key)
	}
	if got := bag.GetOr("vmSize", "Standard_A0"); got != "Standard_A0" {
		t.Errorf("GetOr default not applied, got %s", got)
	}

	bag.Set("vmSize", "Standard_B1s")
	if got := bag.GetOr("vmSize", "Standard_A0"); got != "Standard_B1s" {
		t.Errorf("Set value not visible, got %s", got)
	}
}

func TestLoadKeepsPasswordsVerbatim(t *testing.T) {
	t.Setenv("ARM_SUBSCRIPTION_ID", "sub")
	t.Setenv("AZWEBVM_STACK", "dev")
	t.Setenv("HOME", "/root")
	t.Setenv("VM_USER", "webadmin")
	writeConfig(t, `stacks:
  dev:
    azure-test:username: ${VM_USER}
    azure-test:password: 'Pa$$w0rd$HOME'
    azure-test:adminSecret: '$ecret'
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	bag := cfg.Bag()
	tests := []struct {
		key  string
		want string
	}{
		{"username", "webadmin"},
		{"password", "Pa$$w0rd$HOME"},
		{"adminSecret", "$ecret"},
	}
	for _, tt := range tests {
		got, err := bag.Require(tt.key)
		if err != nil {
			t.Fatalf("Require(%q) failed: %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("Require(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
