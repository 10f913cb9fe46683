// Package installer handles installation and uninstallation of the siteblock agent.
package installer

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkowalczyk/siteblock/internal/client"
	"github.com/pkowalczyk/siteblock/internal/protocol"
)

const (
	// AgentLabel is the launchd label for the macOS LaunchAgent.
	AgentLabel = "com.siteblock.agent"
	// ServiceName is the systemd user unit name.
	ServiceName = "siteblock.service"
)

// LaunchAgentPlist is the macOS per-user LaunchAgent template. The agent
// runs as the logged-in user and elevates per call, so no LaunchDaemon
// is needed.
const LaunchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.siteblock.agent</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>agent</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%s/agent.log</string>
    <key>StandardErrorPath</key>
    <string>%s/agent.err</string>
</dict>
</plist>
`

// SystemdUnit is the Linux systemd user unit template.
const SystemdUnit = `[Unit]
Description=siteblock - domain blocking agent
After=default.target

[Service]
Type=simple
ExecStart=%s agent
Restart=always
RestartSec=5

[Install]
WantedBy=default.target
`

// Installer handles installation and uninstallation of the user agent.
type Installer struct {
	binaryPath string
	homeDir    string
	verbose    bool
}

// New creates a new installer.
func New() (*Installer, error) {
	binaryPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate home directory: %w", err)
	}

	return &Installer{
		binaryPath: binaryPath,
		homeDir:    home,
		verbose:    true,
	}, nil
}

// Install registers the agent with the user's service manager and
// starts it. The agent itself is unprivileged, so no sudo is needed
// here. The privilege prompt appears later, when blocking is toggled.
func (i *Installer) Install() error {
	i.log("Installing siteblock agent...")

	switch runtime.GOOS {
	case "darwin":
		if err := i.installLaunchAgent(); err != nil {
			return fmt.Errorf("failed to install LaunchAgent: %w", err)
		}
	case "linux":
		if err := i.installSystemdService(); err != nil {
			return fmt.Errorf("failed to install systemd user unit: %w", err)
		}
	default:
		return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}

	i.log("")
	i.log("✓ Installed successfully!")
	i.log("")
	i.log("Next steps:")
	i.log("  1. Run 'siteblock add <domain>' to pick what to block")
	i.log("  2. Run 'siteblock on' to start blocking")
	i.log("")

	return nil
}

// Uninstall stops the agent and removes its service registration. The
// blocklist ledger is preserved.
func (i *Installer) Uninstall() error {
	i.log("Uninstalling siteblock agent...")

	switch runtime.GOOS {
	case "darwin":
		i.uninstallLaunchAgent()
	case "linux":
		i.uninstallSystemdService()
	}

	_ = os.Remove(protocol.SocketPath())

	i.log("")
	i.log("✓ Uninstalled successfully!")
	i.log("")
	i.log("Note: your blocklist and logs were preserved.")
	i.log("To fully remove, manually delete:")
	i.log("  - ~/.config/siteblock/")
	i.log("")

	return nil
}

func (i *Installer) log(format string, args ...any) {
	if i.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func (i *Installer) launchAgentPath() string {
	return filepath.Join(i.homeDir, "Library", "LaunchAgents", AgentLabel+".plist")
}

func (i *Installer) systemdUnitPath() string {
	return filepath.Join(i.homeDir, ".config", "systemd", "user", ServiceName)
}

func (i *Installer) logDir() string {
	return filepath.Join(i.homeDir, "Library", "Logs", "siteblock")
}

func (i *Installer) installLaunchAgent() error {
	logDir := i.logDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	plistPath := i.launchAgentPath()
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return fmt.Errorf("failed to create LaunchAgents directory: %w", err)
	}

	domain := fmt.Sprintf("gui/%d", os.Getuid())

	// Unload if already loaded before rewriting the plist.
	i.log("  Stopping existing agent if running...")
	_ = exec.Command("launchctl", "bootout", domain+"/"+AgentLabel).Run()
	time.Sleep(500 * time.Millisecond)
	_ = os.Remove(plistPath)

	i.log("  Writing LaunchAgent plist...")
	content := fmt.Sprintf(LaunchAgentPlist, i.binaryPath, logDir, logDir)
	if err := os.WriteFile(plistPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write plist: %w", err)
	}

	i.log("  Starting agent...")
	cmd := exec.Command("launchctl", "bootstrap", domain, plistPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Exit code 5 means "service already loaded", kickstart instead.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 5 {
			i.log("  Agent already registered, restarting...")
			if err := exec.Command("launchctl", "kickstart", "-k", domain+"/"+AgentLabel).Run(); err != nil {
				return fmt.Errorf("failed to restart agent: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to bootstrap agent: %w (output: %s)", err, string(output))
	}

	return nil
}

func (i *Installer) uninstallLaunchAgent() {
	domain := fmt.Sprintf("gui/%d", os.Getuid())

	i.log("  Stopping agent...")
	_ = exec.Command("launchctl", "bootout", domain+"/"+AgentLabel).Run()

	i.log("  Removing LaunchAgent plist...")
	_ = os.Remove(i.launchAgentPath())
}

func (i *Installer) installSystemdService() error {
	unitPath := i.systemdUnitPath()
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("failed to create systemd user directory: %w", err)
	}

	i.log("  Writing systemd user unit...")
	content := fmt.Sprintf(SystemdUnit, i.binaryPath)
	if err := os.WriteFile(unitPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	i.log("  Reloading systemd...")
	if err := exec.Command("systemctl", "--user", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}

	i.log("  Enabling and starting service...")
	if err := exec.Command("systemctl", "--user", "enable", "--now", ServiceName).Run(); err != nil {
		return fmt.Errorf("failed to enable service: %w", err)
	}

	return nil
}

func (i *Installer) uninstallSystemdService() {
	i.log("  Stopping and disabling service...")
	_ = exec.Command("systemctl", "--user", "disable", "--now", ServiceName).Run()

	i.log("  Removing systemd user unit...")
	_ = os.Remove(i.systemdUnitPath())

	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()
}

// CheckInstallation checks if the agent is reachable on its socket.
func CheckInstallation() error {
	socketPath := protocol.SocketPath()
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return fmt.Errorf("agent not running (socket not found). Run 'siteblock install' or 'siteblock agent'")
	}
	if !client.IsConnected(socketPath) {
		return fmt.Errorf("agent socket exists but the agent is not answering")
	}
	return nil
}
