package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func withBuild(t *testing.T, bi *debug.BuildInfo, v, commit, built string) {
	t.Helper()
	origRead, origV, origC, origB := readBuildInfo, Version, Commit, BuildTime
	t.Cleanup(func() {
		readBuildInfo, Version, Commit, BuildTime = origRead, origV, origC, origB
	})
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	Version, Commit, BuildTime = v, commit, built
}

func TestGet_LinkTimeValuesWin(t *testing.T) {
	bi := &debug.BuildInfo{GoVersion: "go1.23.0", Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "ffffffffffffffff"},
		{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
	}}
	withBuild(t, bi, "1.2.0", "abc1234def", "2026-01-15T10:30:00Z")

	info := Get()
	if info.Version != "1.2.0" || info.Commit != "abc1234" || info.BuildTime != "2026-01-15T10:30:00Z" {
		t.Fatalf("info = %+v", info)
	}
	if info.GoVersion != "go1.23.0" {
		t.Errorf("go version = %q", info.GoVersion)
	}
	if !info.IsRelease() {
		t.Error("clean tagged build should be a release")
	}
}

func TestGet_FallsBackToVCS(t *testing.T) {
	bi := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}, Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.modified", Value: "true"},
	}}
	withBuild(t, bi, "dev", "", "")

	info := Get()
	if info.Version != "dev" || info.Commit != "0123456" || !info.Modified {
		t.Fatalf("info = %+v", info)
	}
	if info.IsRelease() {
		t.Error("dev build is not a release")
	}
	if got := info.Short(); got != "dev-0123456-dirty" {
		t.Errorf("Short = %q", got)
	}
}

func TestGet_ModuleVersion(t *testing.T) {
	withBuild(t, &debug.BuildInfo{Main: debug.Module{Version: "v0.4.1"}}, "dev", "", "")
	if v := Get().Version; v != "0.4.1" {
		t.Errorf("version = %q", v)
	}
}

func TestString(t *testing.T) {
	withBuild(t, nil, "1.0.0", "abc1234", "2026-02-01T00:00:00Z")
	s := Get().String()
	for _, want := range []string{"runflow 1.0.0-abc1234", "built 2026-02-01"} {
		if !strings.Contains(s, want) {
			t.Errorf("%q missing %q", s, want)
		}
	}
}
