package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	backups := filepath.Join(tmpDir, "backups")
	other := filepath.Join(tmpDir, "other")
	for _, dir := range []string{backups, other} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(other, "lightpos.db"), []byte("db"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(backups, "escape")
	if err := os.Symlink(other, link); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"new backup file", filepath.Join(backups, "lightpos-backup-1.db"), false},
		{"nested new file", filepath.Join(backups, "2025", "frames.bin"), false},
		{"dot dot escape", filepath.Join(backups, "..", "lightpos.db"), true},
		{"relative escape", "../../../etc/passwd", true},
		{"absolute outside", "/etc/passwd", true},
		{"through symlink to existing file", filepath.Join(link, "lightpos.db"), true},
		{"through symlink to new file", filepath.Join(link, "new.db"), true},
		{"symlink itself", link, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, backups)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}

	if err := ValidatePathWithinDirectory(filepath.Join(backups, "x"), filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("expected an error for a missing safe directory")
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	if err := ValidatePathWithinAllowedDirs(filepath.Join(dir2, "frames.pcap"), []string{dir1, dir2}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs("/etc/passwd", []string{dir1, dir2}); err == nil {
		t.Error("path outside all dirs accepted")
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(dir1, "frames.pcap"), nil); err == nil {
		t.Error("empty allow list accepted")
	}
}

func TestValidateExportPath(t *testing.T) {
	if err := ValidateExportPath(filepath.Join(os.TempDir(), "frames.bin")); err != nil {
		t.Errorf("temp dir path rejected: %v", err)
	}
	if err := ValidateExportPath("frames.bin"); err != nil {
		t.Errorf("working directory path rejected: %v", err)
	}
	if err := ValidateExportPath("/etc/frames.bin"); err == nil {
		t.Error("path under /etc accepted")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"lightpos", "lightpos"},
		{"sensor data.db", "sensor_data.db"},
		{"../../etc/passwd", "etc_passwd"},
		{"a//b\\\\c", "a_b_c"},
		{"run-1_v2.0", "run-1_v2.0"},
		{"__hidden.", "hidden"},
		{"", "unknown"},
		{"???", "unknown"},
		{"caméra", "cam_ra"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := SanitizeFilename(strings.Repeat("x", 500))
	if len(long) != maxFilenameLen {
		t.Errorf("long name has length %d, want %d", len(long), maxFilenameLen)
	}
}
