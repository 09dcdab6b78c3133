package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"API_BASE_URL", "SESSION_STORE", "SESSION_FILE", "REDIS_ADDR",
	"DATABASE_URI", "CALLBACK_ADDRESS", "CALLBACK_SECRET", "REQUEST_TIMEOUT", "KPABK_VERBOSE",
}

func TestParseConfig(t *testing.T) {
	type want struct {
		apiBaseURL      string
		sessionStore    string
		sessionFile     string
		callbackAddress string
		requestTimeout  time.Duration
	}

	tests := []struct {
		name  string
		env   map[string]string
		flags []string
		want  want
	}{
		{
			name:  "defaults",
			env:   map[string]string{"SESSION_FILE": "/tmp/s.json"},
			flags: []string{},
			want: want{
				apiBaseURL:      "http://localhost:8080/api",
				sessionStore:    "file",
				sessionFile:     "/tmp/s.json",
				callbackAddress: "localhost:8765",
			},
		},
		{
			name: "env only",
			env: map[string]string{
				"API_BASE_URL":     "https://kpabk.example/api",
				"SESSION_FILE":     "/tmp/env.json",
				"CALLBACK_ADDRESS": "localhost:9999",
				"REQUEST_TIMEOUT":  "3s",
			},
			flags: []string{},
			want: want{
				apiBaseURL:      "https://kpabk.example/api",
				sessionStore:    "file",
				sessionFile:     "/tmp/env.json",
				callbackAddress: "localhost:9999",
				requestTimeout:  3 * time.Second,
			},
		},
		{
			name: "flags only",
			env:  map[string]string{},
			flags: []string{
				"-a", "http://flag:8080/api",
				"-f", "/tmp/flag.json",
				"-c", "localhost:7777",
				"-t", "10s",
			},
			want: want{
				apiBaseURL:      "http://flag:8080/api",
				sessionStore:    "file",
				sessionFile:     "/tmp/flag.json",
				callbackAddress: "localhost:7777",
				requestTimeout:  10 * time.Second,
			},
		},
		{
			name: "env overrides flags",
			env: map[string]string{
				"API_BASE_URL":     "http://env:9000/api",
				"SESSION_FILE":     "/tmp/env.json",
				"CALLBACK_ADDRESS": "env:8765",
			},
			flags: []string{
				"-a", "http://flag:8000/api",
				"-f", "/tmp/flag.json",
				"-c", "flag:8765",
			},
			want: want{
				apiBaseURL:      "http://env:9000/api",
				sessionStore:    "file",
				sessionFile:     "/tmp/env.json",
				callbackAddress: "env:8765",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

			for _, k := range configEnvKeys {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			os.Args = append([]string{"test"}, tt.flags...)

			cfg, err := Parse()
			require.NoError(t, err)

			assert.Equal(t, tt.want.apiBaseURL, cfg.APIBaseURL)
			assert.Equal(t, tt.want.sessionStore, cfg.SessionStore)
			assert.Equal(t, tt.want.sessionFile, cfg.SessionFile)
			assert.Equal(t, tt.want.callbackAddress, cfg.CallbackAddress)
			assert.Equal(t, tt.want.requestTimeout, cfg.RequestTimeout)
		})
	}
}

func TestParseConfig_StoreRequirements(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "redis without address", env: map[string]string{"SESSION_STORE": "redis"}, wantErr: true},
		{name: "redis with address", env: map[string]string{"SESSION_STORE": "redis", "REDIS_ADDR": "localhost:6379"}},
		{name: "postgres without dsn", env: map[string]string{"SESSION_STORE": "postgres"}, wantErr: true},
		{name: "unknown store", env: map[string]string{"SESSION_STORE": "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
			for _, k := range configEnvKeys {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			os.Args = []string{"test"}

			_, err := Parse()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestArgsReturnsPositional(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	for _, k := range configEnvKeys {
		t.Setenv(k, "")
	}
	os.Args = []string{"test", "-a", "http://x/api", "cart", "add", "p1"}

	_, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, []string{"cart", "add", "p1"}, Args())
}
