package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/apptracker"
	"codeberg.org/mutker/autoprofiled/internal/policy"
	"codeberg.org/mutker/autoprofiled/internal/ppd"
	"codeberg.org/mutker/autoprofiled/internal/procwatch"
	"codeberg.org/mutker/autoprofiled/internal/upower"
	"github.com/spf13/cobra"
)

const queryTimeout = 5 * time.Second

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current conditions and the profile they select",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			cfg := store.Config()

			src, closePower := newPowerSource(ctx, cfg)
			defer closePower()
			if err := src.Connect(ctx); err != nil {
				return err
			}
			st, err := src.State()
			if err != nil {
				return err
			}

			// A single scan is enough to tell whether an application is running.
			watcher := procwatch.New()
			tracker := apptracker.New(watcher, nil)
			defer tracker.Close()
			tracker.SetPerformanceApps(cfg.PerformanceApps)
			if err := watcher.Scan(); err != nil {
				return err
			}

			systemThreshold := upower.NewConf(upower.DefaultConfPath).PercentageLow()
			cond, result := policy.Conditions(st, tracker.HasActiveApps(), cfg.Settings, systemThreshold)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Battery:          %s\n", describeBattery(st.HasBattery, st.Percentage, st.WarningLevel.String()))
			fmt.Fprintf(w, "Power source:     %s\n", onOff(cond.OnBattery, "battery", "AC"))
			fmt.Fprintf(w, "Low battery:      %s (threshold %d%%)\n",
				onOff(cond.LowBattery, "yes", "no"), policy.Threshold(cfg.LowBatteryThreshold, systemThreshold))
			fmt.Fprintf(w, "Performance apps: %s\n", onOff(cond.PerfAppsActive, "running", "none"))
			fmt.Fprintf(w, "Selected profile: %s (%s)\n", result.Profile, result.Rule)

			controller := ppd.New()
			defer controller.Close()
			if err := controller.Connect(ctx); err != nil {
				fmt.Fprintf(w, "Active profile:   unknown (%v)\n", err)
				return nil
			}
			fmt.Fprintf(w, "Active profile:   %s\n", controller.ActiveProfile())
			if reason := controller.PerformanceDegraded(); reason != "" {
				fmt.Fprintf(w, "Degraded:         %s\n", reason)
			}

			return nil
		},
	}
}

func describeBattery(present bool, percentage float64, level string) string {
	if !present {
		return "none"
	}
	return fmt.Sprintf("%.0f%% (warning level %s)", percentage, level)
}

func onOff(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

func NewProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the profiles offered by power-profiles-daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			controller := ppd.New()
			defer controller.Close()
			if err := controller.Connect(ctx); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Service: %s\n", controller.Service().Name)
			active := controller.ActiveProfile()
			for _, p := range controller.ProfileDetails() {
				marker := " "
				if p.Name == active {
					marker = "*"
				}
				drivers := []string{}
				for _, d := range []string{p.Driver, p.PlatformDriver, p.CPUDriver} {
					if d != "" {
						drivers = append(drivers, d)
					}
				}
				fmt.Fprintf(w, "%s %-12s %s\n", marker, p.Name, strings.Join(drivers, ", "))
			}

			if st := controller.ValidateDrivers(); st.Active && !st.HasDrivers {
				fmt.Fprintln(w, "\nWarning: no system-specific platform driver is available;")
				fmt.Fprintln(w, "profile switching will have little effect.")
			}

			return nil
		},
	}
}
