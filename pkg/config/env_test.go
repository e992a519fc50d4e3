package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_OM_GET_ENV_SET", "custom_value")

	if got := GetEnv("TEST_OM_GET_ENV_SET", "default"); got != "custom_value" {
		t.Fatalf("GetEnv = %q, want custom_value", got)
	}
	if got := GetEnv("TEST_OM_GET_ENV_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv = %q, want fallback", got)
	}
}

func TestTypedGetters(t *testing.T) {
	tests := []struct {
		name string
		env  string
		get  func() interface{}
		want interface{}
	}{
		{
			name: "int",
			env:  "42",
			get:  func() interface{} { return GetEnvInt("TEST_OM_TYPED", 1) },
			want: 42,
		},
		{
			name: "int invalid falls back",
			env:  "abc",
			get:  func() interface{} { return GetEnvInt("TEST_OM_TYPED", 7) },
			want: 7,
		},
		{
			name: "int64",
			env:  "9000000000",
			get:  func() interface{} { return GetEnvInt64("TEST_OM_TYPED", 0) },
			want: int64(9000000000),
		},
		{
			name: "bool",
			env:  "true",
			get:  func() interface{} { return GetEnvBool("TEST_OM_TYPED", false) },
			want: true,
		},
		{
			name: "float",
			env:  "0.25",
			get:  func() interface{} { return GetEnvFloat64("TEST_OM_TYPED", 1) },
			want: 0.25,
		},
		{
			name: "duration",
			env:  "90s",
			get:  func() interface{} { return GetEnvDuration("TEST_OM_TYPED", time.Second) },
			want: 90 * time.Second,
		},
		{
			name: "slice",
			env:  " a, ,b ",
			get:  func() interface{} { return GetEnvSlice("TEST_OM_TYPED", nil) },
			want: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_OM_TYPED", tt.env)
			if got := tt.get(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestIsInsecureDevSecret(t *testing.T) {
	if !IsInsecureDevSecret("dev-internal-token-change-me") {
		t.Fatal("expected placeholder to be insecure")
	}
	if IsInsecureDevSecret("a-real-secret") {
		t.Fatal("unexpected insecure match")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TEST_OM_DOTENV=from-file\nTEST_OM_DOTENV_KEEP=file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("TEST_OM_DOTENV_KEEP", "process")
	os.Unsetenv("TEST_OM_DOTENV")
	t.Cleanup(func() { os.Unsetenv("TEST_OM_DOTENV") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("TEST_OM_DOTENV"); got != "from-file" {
		t.Fatalf("TEST_OM_DOTENV = %q", got)
	}
	if got := os.Getenv("TEST_OM_DOTENV_KEEP"); got != "process" {
		t.Fatalf("existing env overwritten: %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored, got %v", err)
	}
}
