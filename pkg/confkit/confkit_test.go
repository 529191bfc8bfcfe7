package confkit_test

import (
	"os"
	"path/filepath"
	"testing"

	"relay-api/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		file     string
		expected string
		setupEnv map[string]string
	}{
		{
			name:     "absolute section path",
			base:     "/srv/relay/etc",
			file:     "/shared/exchange.yaml",
			expected: "/shared/exchange.yaml",
		},
		{
			name:     "section relative to the main config",
			base:     "/srv/relay/etc",
			file:     "engine.yaml",
			expected: "/srv/relay/etc/engine.yaml",
		},
		{
			name:     "env var in an absolute path",
			base:     "/srv/relay/etc",
			file:     "$HOME/engine.yaml",
			expected: os.Getenv("HOME") + "/engine.yaml",
		},
		{
			name:     "env var in a relative path",
			base:     "/srv/relay/etc",
			file:     "${RELAY_CONF_DIR}/exchange.yaml",
			expected: "/srv/relay/etc/conf.d/exchange.yaml",
			setupEnv: map[string]string{"RELAY_CONF_DIR": "conf.d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.setupEnv {
				t.Setenv(k, v)
			}

			result := confkit.ResolvePath(tt.base, tt.file)
			if result != tt.expected {
				t.Errorf("ResolvePath() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestBaseDir(t *testing.T) {
	tests := []struct {
		name     string
		mainPath string
		expected string
	}{
		{
			name:     "deployed config",
			mainPath: "/srv/relay/etc/relay.yaml",
			expected: "/srv/relay/etc",
		},
		{
			name:     "config at the filesystem root",
			mainPath: "/relay.yaml",
			expected: "/",
		},
		{
			name:     "repo-relative config",
			mainPath: "etc/relay.yaml",
			expected: "etc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := confkit.BaseDir(tt.mainPath)
			if result != tt.expected {
				t.Errorf("BaseDir() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSection_Hydrate(t *testing.T) {
	type engineConf struct {
		Accounts []string
	}

	t.Run("unset file skips the loader", func(t *testing.T) {
		section := &confkit.Section[engineConf]{}
		err := section.Hydrate("/srv/relay/etc", func(path string) (*engineConf, error) {
			t.Error("loader should not be called when no file is set")
			return nil, nil
		})
		if err != nil {
			t.Errorf("Hydrate() with no file should not error, got: %v", err)
		}
		if section.Value != nil {
			t.Error("Value should remain nil when no file is set")
		}
	})

	t.Run("file resolves and loads", func(t *testing.T) {
		section := &confkit.Section[engineConf]{File: "engine.yaml"}
		loaded := engineConf{Accounts: []string{"main", "alt"}}

		err := section.Hydrate("/srv/relay/etc", func(path string) (*engineConf, error) {
			if path != "/srv/relay/etc/engine.yaml" {
				t.Errorf("loader received path %v, want /srv/relay/etc/engine.yaml", path)
			}
			return &loaded, nil
		})

		if err != nil {
			t.Errorf("Hydrate() error = %v, want nil", err)
		}
		if section.Value == nil || len(section.Value.Accounts) != 2 {
			t.Errorf("Value = %+v, want the loaded engine config", section.Value)
		}
		if section.File != "/srv/relay/etc/engine.yaml" {
			t.Errorf("File = %v, want /srv/relay/etc/engine.yaml", section.File)
		}
	})

	t.Run("loader errors surface", func(t *testing.T) {
		section := &confkit.Section[engineConf]{File: filepath.Join("conf.d", "engine.yaml")}
		wantErr := os.ErrNotExist

		err := section.Hydrate("/srv/relay/etc", func(string) (*engineConf, error) {
			return nil, wantErr
		})

		if err != wantErr {
			t.Errorf("Hydrate() error = %v, want %v", err, wantErr)
		}
		if section.Value != nil {
			t.Error("Value should stay nil when the loader fails")
		}
	})
}
