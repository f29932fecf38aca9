package buildinfo

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/inactu/inactu-web/core/infra/logging"
)

// Set through -ldflags at release time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var vcsOnce sync.Once

// fillFromVCS backfills commit and date from the module's embedded VCS
// stamp when ldflags left them unset.
func fillFromVCS() {
	vcsOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if Commit == "unknown" && setting.Value != "" {
					Commit = setting.Value
				}
			case "vcs.time":
				if Date == "unknown" && setting.Value != "" {
					Date = setting.Value
				}
			}
		}
	})
}

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// UserAgent is sent on outbound control-plane requests.
func UserAgent() string {
	return "inactu-web/" + Version
}

// Log writes the build summary for the named service.
func Log(service string) {
	fillFromVCS()
	logging.Info(service, "starting", "version", Version, "commit", Commit, "date", Date)
}
