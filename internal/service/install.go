package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	SystemdUnitName = "legion.service"
	LaunchdLabel    = "com.legionruntime.legion"
)

// InstallResult captures the service file write and next steps.
type InstallResult struct {
	Path         string
	Instructions []string
}

// InstallUserService writes a user-level service file for the current OS.
func InstallUserService(configPath string, overwrite bool) (InstallResult, error) {
	execPath, err := os.Executable()
	if err != nil {
		execPath = "legion"
	}
	configPath = normalizeConfigPath(configPath)

	switch runtime.GOOS {
	case "linux":
		return installSystemdUser(execPath, configPath, overwrite)
	case "darwin":
		return installLaunchdUser(execPath, configPath, overwrite)
	default:
		return InstallResult{}, fmt.Errorf("service install not supported on %s", runtime.GOOS)
	}
}

func normalizeConfigPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return "legion.yaml"
	}
	return path
}

func installSystemdUser(execPath, configPath string, overwrite bool) (InstallResult, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if strings.TrimSpace(base) == "" {
		home, _ := os.UserHomeDir()
		if strings.TrimSpace(home) == "" {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}

	path := filepath.Join(base, "systemd", "user", SystemdUnitName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return InstallResult{}, err
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return InstallResult{Path: path, Instructions: []string{"systemctl --user daemon-reload", "systemctl --user enable --now legion"}}, nil
		} else if !os.IsNotExist(err) {
			return InstallResult{}, err
		}
	}

	content := GenerateSystemdUnit(execPath, configPath)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return InstallResult{}, err
	}

	return InstallResult{
		Path: path,
		Instructions: []string{
			"systemctl --user daemon-reload",
			"systemctl --user enable --now legion",
		},
	}, nil
}

func installLaunchdUser(execPath, configPath string, overwrite bool) (InstallResult, error) {
	home, _ := os.UserHomeDir()
	if strings.TrimSpace(home) == "" {
		home = "."
	}
	path := filepath.Join(home, "Library", "LaunchAgents", LaunchdLabel+".plist")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return InstallResult{}, err
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return InstallResult{Path: path, Instructions: []string{"launchctl unload " + path, "launchctl load -w " + path}}, nil
		} else if !os.IsNotExist(err) {
			return InstallResult{}, err
		}
	}

	content := GenerateLaunchdPlist(execPath, configPath)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return InstallResult{}, err
	}

	return InstallResult{
		Path: path,
		Instructions: []string{
			"launchctl unload " + path,
			"launchctl load -w " + path,
		},
	}, nil
}

// commandRunner executes one restart step. Tests replace it.
var commandRunner = func(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// RestartUserService restarts the installed user-level service and returns
// the commands it ran.
func RestartUserService(ctx context.Context) ([]string, error) {
	var steps [][]string
	switch runtime.GOOS {
	case "linux":
		steps = [][]string{
			{"systemctl", "--user", "daemon-reload"},
			{"systemctl", "--user", "restart", "legion"},
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		if strings.TrimSpace(home) == "" {
			home = "."
		}
		plist := filepath.Join(home, "Library", "LaunchAgents", LaunchdLabel+".plist")
		steps = [][]string{
			{"launchctl", "unload", plist},
			{"launchctl", "load", "-w", plist},
		}
	default:
		return nil, fmt.Errorf("service restart not supported on %s", runtime.GOOS)
	}

	ran := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := commandRunner(ctx, step[0], step[1:]...); err != nil {
			return ran, fmt.Errorf("%s: %w", strings.Join(step, " "), err)
		}
		ran = append(ran, strings.Join(step, " "))
	}
	return ran, nil
}

// GenerateSystemdUnit returns a systemd unit file for the runtime.
func GenerateSystemdUnit(execPath, configPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Legion Agent Runtime
After=network.target

[Service]
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=3

[Install]
WantedBy=default.target
`, execPath, configPath)
}

// GenerateLaunchdPlist returns a launchd plist for the runtime.
func GenerateLaunchdPlist(execPath, configPath string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
  <dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
      <string>%s</string>
      <string>serve</string>
      <string>--config</string>
      <string>%s</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
  </dict>
</plist>
`, LaunchdLabel, execPath, configPath)
}
