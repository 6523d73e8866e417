package watchdogdev

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestCandidatePaths_PreferenceOrder(t *testing.T) {
	is := is.New(t)

	paths := candidatePaths("", "")
	is.Equal(paths, DefaultPaths) // no saved or operator path: defaults only

	paths = candidatePaths("/run/fencewd/wdmd.path-device", "")
	is.Equal(paths[0], "/run/fencewd/wdmd.path-device") // saved path wins

	paths = candidatePaths("", "/dev/watchdog2")
	is.Equal(paths[0], "/dev/watchdog2") // operator path wins over defaults

	paths = candidatePaths("/dev/saved", "/dev/operator")
	is.Equal(paths[0], "/dev/saved")     // saved first
	is.Equal(paths[1], "/dev/operator")  // operator second
}

func TestCandidatePaths_DedupesRepeatedEntries(t *testing.T) {
	is := is.New(t)

	paths := candidatePaths("/dev/watchdog0", "/dev/watchdog0")
	count := 0
	for _, p := range paths {
		if p == "/dev/watchdog0" {
			count++
		}
	}
	is.Equal(count, 1) // saved == operator collapses to one entry
}

func TestDevice_CloseClean_WritesDisarmByte(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "fake-watchdog")
	f, err := os.Create(path)
	is.NoErr(err) // temp file created

	d := &Device{f: f, path: path, timeout: 60 * time.Second}
	is.NoErr(d.CloseClean()) // clean close succeeds

	contents, err := os.ReadFile(path)
	is.NoErr(err)                 // file still readable
	is.Equal(string(contents), "V") // disarm byte written before close
}

func TestDevice_CloseUnclean_WritesNothing(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "fake-watchdog")
	f, err := os.Create(path)
	is.NoErr(err)

	d := &Device{f: f, path: path, timeout: 60 * time.Second}
	is.NoErr(d.CloseUnclean()) // unclean close succeeds

	contents, err := os.ReadFile(path)
	is.NoErr(err)
	is.Equal(len(contents), 0) // no disarm byte: device stays armed
}

func TestDevice_PathAndTimeout(t *testing.T) {
	is := is.New(t)

	d := &Device{path: "/dev/watchdog0", timeout: 30 * time.Second}
	is.Equal(d.Path(), "/dev/watchdog0")
	is.Equal(d.Timeout(), 30*time.Second)
}
