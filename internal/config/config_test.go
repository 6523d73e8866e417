package config_test

import (
	"testing"
	"time"

	"github.com/cscheib/fencewd/internal/config"
	"github.com/matryer/is"
)

func TestDaemonConfig_DefaultsValidate(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultDaemonConfig()
	is.NoErr(cfg.Validate())
}

func TestDaemonConfig_FireTimeoutMustExceedTestInterval(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultDaemonConfig()
	cfg.FireTimeout = cfg.TestInterval
	is.True(cfg.Validate() != nil)
}

func TestDaemonConfig_ScriptsRequireDirectory(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultDaemonConfig()
	cfg.AllowScripts = true
	cfg.ScriptsDir = ""
	is.True(cfg.Validate() != nil)
}

func TestDaemonConfig_NegativeKillScriptRejected(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultDaemonConfig()
	cfg.KillScriptSec = -1 * time.Second
	is.True(cfg.Validate() != nil)
}

func baseOrchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		Command: "reset",
		Targets: []config.ResetTarget{{Lockspace: "ls0", HostID: 2}},
	}
}

func TestOrchestratorConfig_ValidReset(t *testing.T) {
	is := is.New(t)
	cfg := baseOrchestratorConfig()
	is.NoErr(cfg.Validate())
}

func TestOrchestratorConfig_RequiresCommand(t *testing.T) {
	is := is.New(t)
	cfg := baseOrchestratorConfig()
	cfg.Command = ""
	is.True(cfg.Validate() != nil)
}

func TestOrchestratorConfig_RequiresAtLeastOneTarget(t *testing.T) {
	is := is.New(t)
	cfg := baseOrchestratorConfig()
	cfg.Targets = nil
	is.True(cfg.Validate() != nil)
}

func TestOrchestratorConfig_NativeTimeoutBelowFloorRejected(t *testing.T) {
	is := is.New(t)
	cfg := baseOrchestratorConfig()
	cfg.NativeTimeoutSeconds = 1
	is.True(cfg.Validate() != nil)

	cfg.NativeTimeoutSeconds = config.NativeTimeoutFloor - 1
	is.True(cfg.Validate() != nil)
}

func TestOrchestratorConfig_NativeTimeoutAtOrAboveFloorAccepted(t *testing.T) {
	is := is.New(t)
	cfg := baseOrchestratorConfig()
	cfg.NativeTimeoutSeconds = config.NativeTimeoutFloor
	is.NoErr(cfg.Validate())
}

func TestOrchestratorConfig_NegativeNativeTimeoutDisablesExplicitly(t *testing.T) {
	is := is.New(t)
	cfg := baseOrchestratorConfig()
	cfg.NativeTimeoutSeconds = -1
	is.NoErr(cfg.Validate()) // negative is the documented way to disable native-timeout
}

func TestOrchestratorConfig_NonResetCommandRejectsResetFlags(t *testing.T) {
	is := is.New(t)
	cfg := baseOrchestratorConfig()
	cfg.Command = "reg"
	cfg.UseWatchdog = true
	is.True(cfg.Validate() != nil)
}
