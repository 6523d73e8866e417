package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// NativeTimeoutFloor is the minimum non-zero value accepted for an
// operator-supplied native-timeout override. Values in (0, floor) are
// rejected rather than silently rounded up, closing an open question
// the original left unresolved.
const NativeTimeoutFloor = 90

// ResetTarget names one lockspace and, optionally, the host id within it
// that a reset subcommand addresses.
type ResetTarget struct {
	Lockspace string
	HostID    int // 0 when the token has no :host_id; the orchestrator tracks only the host whose id equals this value, with no all-hosts wildcard
}

// OrchestratorConfig is the validated configuration for the fence-reset CLI.
type OrchestratorConfig struct {
	Command              string // "reg", "end", "clear", or "reset"
	Targets              []ResetTarget
	TargetGeneration     uint64 // 0 means "any generation"
	UseWatchdog          bool   // -w: require watchdog-backed fencing
	UseSysrqReboot       bool   // -b: also request a sysrq reboot event
	ResourceMode         bool   // -R: host-status decision in resource_mode
	NativeTimeoutSeconds int    // -t: 0 keeps the default, negative disables the native-timeout fallback
	Debug                bool
}

// Validate checks that the orchestrator configuration is usable.
func (c *OrchestratorConfig) Validate() error {
	var result *multierror.Error

	switch c.Command {
	case "reg", "end", "clear", "reset":
	case "":
		result = multierror.Append(result, fmt.Errorf("a command is required: reg, end, clear, or reset"))
	default:
		result = multierror.Append(result, fmt.Errorf("unknown command %q", c.Command))
	}

	if len(c.Targets) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one lockspace target is required"))
	}
	for _, t := range c.Targets {
		if t.Lockspace == "" {
			result = multierror.Append(result, fmt.Errorf("lockspace name must not be empty"))
		}
		if t.HostID < 0 {
			result = multierror.Append(result, fmt.Errorf("lockspace %q: host id must be >= 0", t.Lockspace))
		}
	}

	if c.NativeTimeoutSeconds > 0 && c.NativeTimeoutSeconds < NativeTimeoutFloor {
		result = multierror.Append(result, fmt.Errorf("native timeout override %ds is below the safe floor of %ds; pass a negative value to disable it instead", c.NativeTimeoutSeconds, NativeTimeoutFloor))
	}

	if c.Command != "reset" && (c.UseWatchdog || c.UseSysrqReboot || c.ResourceMode || c.NativeTimeoutSeconds != 0) {
		result = multierror.Append(result, fmt.Errorf("command %q does not accept reset-specific flags", c.Command))
	}

	return result.ErrorOrNil()
}
