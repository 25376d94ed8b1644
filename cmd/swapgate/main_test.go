package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantNil bool
		wantErr bool
	}{
		{in: "", wantNil: true},
		{in: "1700000000", want: 1700000000},
		{in: "2024-01-02T03:04:05Z", want: 1704164645},
		{in: "next tuesday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseExpiry(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseExpiry(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("parseExpiry(%q) = %d, want nil", tt.in, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("parseExpiry(%q) = %v, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestAccountsCommands(t *testing.T) {
	dir := t.TempDir()
	token := "sk-cli-test-0123456789abcdefghijklmnop"

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append(args, "--project-dir", dir))
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("%v: %v\n%s", args, err, out.String())
		}
		return out.String()
	}

	out := run("accounts", "add", "--id", "primary-account", "--token", token)
	if !strings.Contains(out, "primary-") {
		t.Errorf("add output = %q", out)
	}
	if strings.Contains(out, token) {
		t.Errorf("add printed the token: %q", out)
	}

	out = run("accounts", "list")
	if !strings.Contains(out, "primary-") || !strings.Contains(out, "active") {
		t.Errorf("list output = %q", out)
	}
	if strings.Contains(out, token) {
		t.Errorf("list printed the token: %q", out)
	}

	run("accounts", "reset", "primary-account")
	run("accounts", "remove", "primary-account")

	out = run("accounts", "list")
	if !strings.Contains(out, "No credentials stored.") {
		t.Errorf("list after remove = %q", out)
	}

	if _, err := os.Stat(filepath.Join(dir, ".swapgate", "rotation.db")); err != nil {
		t.Errorf("rotation store not created: %v", err)
	}
}
