// Package version reports the tabterm build version from linker flags or
// embedded VCS build info.
package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/tabterm"

// buildVersion is set via -ldflags "-X pkt.systems/tabterm/internal/version.buildVersion=...".
var buildVersion = ""

var readBuildInfo = debug.ReadBuildInfo

// Info describes the running binary.
type Info struct {
	Module   string
	Version  string
	Revision string
	Dirty    bool
}

// String renders "module version".
func (i Info) String() string {
	return i.Module + " " + i.Version
}

// Read collects build details. The version falls back to a pseudo version
// derived from vcs settings and finally to v0.0.0-unknown.
func Read() Info {
	out := Info{Module: defaultModule, Version: "v0.0.0-unknown"}
	info, ok := readBuildInfo()
	if ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			out.Module = path
		}
		out.Revision, out.Dirty = vcsState(info)
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			out.Version = v
		} else if v := pseudoVersion(info); v != "" {
			out.Version = v
		}
	}
	if v := strings.TrimSpace(buildVersion); v != "" {
		out.Version = v
	}
	out.Version = strings.TrimSuffix(out.Version, "+dirty")
	return out
}

func vcsState(info *debug.BuildInfo) (string, bool) {
	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	return revision, modified
}

func pseudoVersion(info *debug.BuildInfo) string {
	if info == nil {
		return ""
	}
	revision, _ := vcsState(info)
	var vcsTime string
	for _, setting := range info.Settings {
		if setting.Key == "vcs.time" {
			vcsTime = setting.Value
		}
	}
	if revision == "" || vcsTime == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcsTime)
	if err != nil {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + revision
}
