package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
port: "8080"
logLevel: debug
databaseURL: postgres://u:p@localhost:5432/littlehero?sslmode=disable
minioEndpoint: localhost:9000
minioAccessKey: ak
minioSecretKey: sk
minioBucket: littlehero-books
generatorMode: http
generatorURL: http://localhost:8100
internalToken: internal-token
jwtSecret: jwt-secret
maxUploadBytes: 1048576
loginRateLimit: 5
loginRateWindowSeconds: 60
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected base fields: %+v", cfg)
	}
	if cfg.MinioBucket != "littlehero-books" || cfg.GeneratorURL != "http://localhost:8100" {
		t.Fatalf("unexpected stack fields: %+v", cfg)
	}
	if cfg.MaxUploadBytes != 1048576 || cfg.LoginRateLimit != 5 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-db")
	t.Setenv("LITTLEHERO_INTERNAL_TOKEN", "env-internal")
	t.Setenv("LITTLEHERO_JWT_SECRET", "env-jwt")
	t.Setenv("MINIO_ENDPOINT", "minio.internal:9000")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env-db" {
		t.Fatalf("DATABASE_URL override not applied: %q", cfg.DatabaseURL)
	}
	if cfg.InternalToken != "env-internal" || cfg.JWTSecret != "env-jwt" {
		t.Fatalf("secret overrides not applied: %+v", cfg)
	}
	if cfg.MinioEndpoint != "minio.internal:9000" {
		t.Fatalf("MINIO_ENDPOINT override not applied: %q", cfg.MinioEndpoint)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr bool
	}{
		{name: "valid", mutate: validYAML, wantErr: false},
		{name: "missing port", mutate: validYAML + "\nport: \"\"\n", wantErr: true},
		{name: "missing jwt secret", mutate: validYAML + "\njwtSecret: \"\"\n", wantErr: true},
		{name: "bad generator mode", mutate: validYAML + "\ngeneratorMode: carrier-pigeon\n", wantErr: true},
		{name: "redis mode without addr", mutate: validYAML + "\ngeneratorMode: redis\nredisAddr: \"\"\n", wantErr: true},
		{name: "redis mode with addr", mutate: validYAML + "\ngeneratorMode: redis\nredisAddr: localhost:6379\n", wantErr: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mutate))
			if (err != nil) != tc.wantErr {
				t.Fatalf("load err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
