// Package policy maps power conditions and configuration to the profile the
// system should be running.
package policy

import (
	"codeberg.org/mutker/autoprofiled/internal/config"
	"codeberg.org/mutker/autoprofiled/internal/power"
)

// FallbackThreshold applies when neither the configuration nor UPower
// provide a low-battery percentage.
const FallbackThreshold = 20

// Rule names the decision that produced a profile.
type Rule string

const (
	RuleAC                   Rule = "ac"
	RuleLowBattery           Rule = "low-battery"
	RuleBattery              Rule = "battery"
	RuleLowBatteryNoOverride Rule = "low-battery-override-disabled"
	RulePerformanceApps      Rule = "performance-apps"
)

// Inputs are the observed signals a decision is made from.
type Inputs struct {
	OnBattery  bool
	LowBattery bool // detected low, before the override switch is applied
	AppsActive bool
}

// Result is the evaluated profile and the rule that chose it.
type Result struct {
	Profile string
	Rule    Rule
}

// Evaluate applies the decision order: AC default, low-battery power saver,
// battery default, then the performance-app override, which never defeats
// the low-battery power saver.
func Evaluate(in Inputs, s config.Settings) Result {
	var res Result

	switch {
	case !in.OnBattery:
		res = Result{Profile: s.ACProfile, Rule: RuleAC}
	case in.LowBattery && s.PowerSaverOnLowBattery:
		return Result{Profile: power.ProfilePowerSaver, Rule: RuleLowBattery}
	case !in.LowBattery:
		res = Result{Profile: s.BatteryProfile, Rule: RuleBattery}
	default:
		res = Result{Profile: s.BatteryProfile, Rule: RuleLowBatteryNoOverride}
	}

	if in.AppsActive {
		override := s.PerformanceAppsACProfile
		if in.OnBattery {
			override = s.PerformanceAppsBatteryProfile
		}
		if override != "" {
			res = Result{Profile: override, Rule: RulePerformanceApps}
		}
	}

	return res
}

// Threshold resolves the low-battery percentage: the configured value when
// set, else the system value, else FallbackThreshold.
func Threshold(configured, system int) int {
	if configured > 0 {
		return configured
	}
	if system > 0 {
		return system
	}
	return FallbackThreshold
}

// DetectLow reports whether the battery is low under the configured mode.
// It is false whenever the device is not running off its battery.
func DetectLow(st power.State, mode config.LowBatteryMode, threshold int) bool {
	if !st.OnBattery || !st.HasBattery {
		return false
	}

	if mode == config.LowBatteryWarningLevel {
		return st.WarningLevel.AtLeastLow()
	}

	return st.Percentage <= float64(threshold)
}

// Conditions computes the full power condition for a reading. systemThreshold
// is the platform low-battery percentage, 0 when unknown.
func Conditions(st power.State, appsActive bool, s config.Settings, systemThreshold int) (power.Condition, Result) {
	low := DetectLow(st, s.LowBatteryMode, Threshold(s.LowBatteryThreshold, systemThreshold))

	res := Evaluate(Inputs{
		OnBattery:  st.OnBattery,
		LowBattery: low,
		AppsActive: appsActive,
	}, s)

	return power.Condition{
		HasBattery:        st.HasBattery,
		OnBattery:         st.OnBattery,
		LowBattery:        low && s.PowerSaverOnLowBattery,
		PerfAppsActive:    appsActive,
		ConfiguredProfile: res.Profile,
	}, res
}
