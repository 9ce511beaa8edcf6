package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/thatsimonsguy/blower-controller/db"
	"github.com/thatsimonsguy/blower-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, unitPath, user, workdir, binary, configFile string
	var limit int
	var olderThan time.Duration
	flag.StringVar(&dbPath, "db", "data/blower.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: events, sessions, calibration, prune, install-service")
	flag.IntVar(&limit, "limit", 20, "Number of rows to show")
	flag.DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff for prune")
	flag.StringVar(&unitPath, "unit", "/etc/systemd/system/blower-controller.service", "Path of the systemd unit to write")
	flag.StringVar(&user, "user", "pi", "User the service runs as")
	flag.StringVar(&workdir, "workdir", "/opt/blower-controller", "Service working directory")
	flag.StringVar(&binary, "binary", "/opt/blower-controller/blower-controller", "Controller binary")
	flag.StringVar(&configFile, "config-file", "/opt/blower-controller/config.yaml", "Config file passed to the controller")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of blower-debug:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	var err error
	switch command {
	case "events":
		err = db.PrintEventsCLI(os.Stdout, dbPath, limit)
	case "sessions":
		err = db.PrintSessionsCLI(os.Stdout, dbPath, limit)
	case "calibration":
		err = db.PrintCalibrationCLI(os.Stdout, dbPath)
	case "prune":
		var n int64
		n, err = db.PruneEventsCLI(dbPath, olderThan)
		if err == nil {
			fmt.Printf("Pruned %d events\n", n)
		}
	case "install-service":
		err = startup.InstallService(startup.Service{
			User:       user,
			WorkingDir: workdir,
			Binary:     binary,
			ConfigFile: configFile,
		}, unitPath)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
}
