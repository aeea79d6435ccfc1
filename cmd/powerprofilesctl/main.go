// Command powerprofilesctl is the bus client collaborator (spec §6):
// `list`, `get`, `set <profile>`, `list-holds`, `launch -p <profile> --
// <argv…>`, and `version`. Every failure exits 1 with a plain message on
// stderr, never a Go stack trace.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/version"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/osexec"
)

const appName = "powerprofilesctl"

func main() {
	app := kingpin.New(appName, "Inspect and control the power-profiles-daemon active profile.")
	app.Version(version.Print(appName))
	app.HelpFlag.Short('h')

	listCmd := app.Command("list", "List supported profiles and the active one.")
	getCmd := app.Command("get", "Print the active profile.")

	setCmd := app.Command("set", "Set the active profile.")
	setProfile := setCmd.Arg("profile", "Profile to activate.").Required().String()

	listHoldsCmd := app.Command("list-holds", "List active profile holds.")

	launchCmd := app.Command("launch", "Hold a profile for the lifetime of a launched command.")
	launchProfile := launchCmd.Flag("profile", "Profile to hold.").Short('p').Required().String()
	launchReason := launchCmd.Flag("reason", "Reason string reported in ActiveProfileHolds.").Default("launched by powerprofilesctl").String()
	launchArgv := launchCmd.Arg("argv", "Command and arguments to run.").Strings()

	versionCmd := app.Command("version", "Print the version and exit.")

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		fail(err)
	}

	client, err := newClient()
	if err != nil {
		fail(err)
	}
	defer client.Close()

	switch cmd {
	case listCmd.FullCommand():
		err = runList(client)
	case getCmd.FullCommand():
		err = runGet(client)
	case setCmd.FullCommand():
		err = runSet(client, *setProfile)
	case listHoldsCmd.FullCommand():
		err = runListHolds(client)
	case launchCmd.FullCommand():
		err = runLaunch(client, *launchProfile, *launchReason, *launchArgv)
	case versionCmd.FullCommand():
		fmt.Println(version.Print(appName))

		return
	}

	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func runList(c *client) error {
	snap, err := c.Snapshot()
	if err != nil {
		return err
	}

	for _, p := range snap.Profiles {
		marker := "  "
		if p.Profile == snap.ActiveProfile {
			marker = "* "
		}

		driverInfo := p.Driver
		if p.Driver != "placeholder" {
			driverInfo = fmt.Sprintf("%s (cpu: %s, platform: %s)", p.Driver, p.CpuDriver, p.PlatformDriver)
		}

		fmt.Printf("%s%s:\n    Driver:  %s\n", marker, p.Profile, driverInfo)
	}

	if snap.PerformanceDegraded != "" {
		fmt.Printf("Performance degraded: %s\n", snap.PerformanceDegraded)
	}

	return nil
}

func runGet(c *client) error {
	snap, err := c.Snapshot()
	if err != nil {
		return err
	}

	fmt.Println(snap.ActiveProfile)

	return nil
}

func runSet(c *client, p string) error {
	return c.SetActiveProfile(p)
}

func runListHolds(c *client) error {
	snap, err := c.Snapshot()
	if err != nil {
		return err
	}

	if len(snap.Holds) == 0 {
		fmt.Println("No active profile holds.")

		return nil
	}

	for _, h := range snap.Holds {
		fmt.Printf("%d:\n    Profile:        %s\n    Reason:         %s\n    ApplicationId:  %s\n",
			h.Cookie, h.Profile, h.Reason, h.ApplicationID)
	}

	return nil
}

func runLaunch(c *client, p, reason string, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("launch requires a command after --")
	}

	appID := strings.Join(argv, " ")

	cookie, err := c.HoldProfile(p, reason, appID)
	if err != nil {
		return fmt.Errorf("failed to hold profile %s: %w", p, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, runErr := osexec.Run(ctx, argv[0], argv[1:], nil)

	if releaseErr := c.ReleaseProfile(cookie); releaseErr != nil {
		fmt.Fprintf(os.Stderr, "failed to release profile hold: %v\n", releaseErr)
	}

	if runErr != nil {
		return runErr
	}

	os.Exit(code)

	return nil
}
