package startup

import (
	"fmt"
	"os"
	"strings"
)

// Service describes the systemd unit that runs the controller.
type Service struct {
	User       string
	WorkingDir string
	Binary     string
	ConfigFile string
	StateFile  string
	LogLevel   string
}

func (s Service) execStart() string {
	args := []string{s.Binary}
	if s.ConfigFile != "" {
		args = append(args, "-config-file", s.ConfigFile)
	}
	if s.StateFile != "" {
		args = append(args, "-state-file", s.StateFile)
	}
	if s.LogLevel != "" {
		args = append(args, "-log-level", s.LogLevel)
	}
	return strings.Join(args, " ")
}

// Unit renders the service unit. The controller waits for the network since
// the blower is reached over Wi-Fi.
func (s Service) Unit() string {
	return fmt.Sprintf(`[Unit]
Description=Blower door controller
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s
KillSignal=SIGTERM
TimeoutStopSec=15s

[Install]
WantedBy=multi-user.target
`, s.User, s.WorkingDir, s.execStart())
}

func InstallService(s Service, unitPath string) error {
	if s.Binary == "" {
		return fmt.Errorf("service binary is required")
	}
	return os.WriteFile(unitPath, []byte(s.Unit()), 0644)
}
