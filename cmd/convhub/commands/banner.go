package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/convhub/convhub/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(port int, dbPath, filesDir string) {
	versionInfo := version.Get()

	pterm.DefaultBox.WithTitle("ConvHub").WithTitleTopCenter().Println(
		"Job marketplace server\n" +
			"list » apply » accept » finish » rate")

	pterm.Info.Printf("Version:  %s (commit %s)\n", versionInfo.Version, versionInfo.Short())
	pterm.Info.Printf("Port:     %d\n", port)
	pterm.Info.Printf("Database: %s\n", dbPath)
	pterm.Info.Printf("Files:    %s\n", filesDir)

	fmt.Println()
	pterm.Info.Println("Press Ctrl+C to stop")
	fmt.Println()
}
