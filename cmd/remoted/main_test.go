package main

import (
	"path/filepath"
	"testing"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		wantDSN string
		wantErr bool
	}{
		{
			name:    "sqlite defaults dsn under data dir",
			opts:    options{Driver: "sqlite", DataDir: "/srv/rs"},
			wantDSN: filepath.Join("/srv/rs", "tree.db"),
		},
		{
			name:    "sqlite keeps explicit dsn",
			opts:    options{Driver: "sqlite", DataDir: "/srv/rs", DSN: "/tmp/x.db"},
			wantDSN: "/tmp/x.db",
		},
		{
			name:    "postgres requires dsn",
			opts:    options{Driver: "postgres"},
			wantErr: true,
		},
		{
			name:    "postgres with dsn",
			opts:    options{Driver: "postgres", DSN: "postgres://db/rs"},
			wantDSN: "postgres://db/rs",
		},
		{
			name:    "unknown driver",
			opts:    options{Driver: "mysql"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.opts
			err := o.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && o.DSN != tt.wantDSN {
				t.Errorf("DSN = %q, want %q", o.DSN, tt.wantDSN)
			}
		})
	}
}

func TestCommandFlags(t *testing.T) {
	cmd := newCommand()
	for _, name := range []string{"addr", "driver", "dsn", "data-dir", "token", "log-level"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing flag --%s", name)
		}
	}
}
