package installer

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type fakeStopper struct {
	stopped chan struct{}
}

func (f *fakeStopper) ScheduleStop() {
	close(f.stopped)
}

type fakeLauncher struct {
	mu      sync.Mutex
	scripts []string
	err     error
}

func (f *fakeLauncher) Launch(_, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	return f.err
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

type gameDir struct {
	modsDir string
	staged  addon.StagedUpdates
}

// newGameDir creates a mods directory with two installed archives and a
// staged replacement for each of them.
func newGameDir(t *testing.T) *gameDir {
	root := filepath.Join(t.TempDir(), "it's a game")
	modsDir := filepath.Join(root, "mods")
	require.NoError(t, os.MkdirAll(modsDir, 0o755))
	g := &gameDir{modsDir: modsDir}
	for _, name := range []string{"Foo", "Bar Addon"} {
		file := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
		oldPath := filepath.Join(modsDir, file+"-1.0.0.jar")
		require.NoError(t, os.WriteFile(oldPath, []byte("old "+name), 0o644))
		tempDir := filepath.Join(root, "tmp", file)
		require.NoError(t, os.MkdirAll(tempDir, 0o755))
		tempPath := filepath.Join(tempDir, file+"-1.1.0.jar")
		require.NoError(t, os.WriteFile(tempPath, []byte("new "+name), 0o644))
		g.staged = append(g.staged, &addon.StagedUpdate{
			UpdateInfo: &addon.UpdateInfo{AddonName: name, LocalPath: oldPath},
			TempPath:   tempPath,
		})
	}
	return g
}

func commandsOf(t *testing.T, script string) [][]string {
	file, err := syntax.NewParser().Parse(strings.NewReader(script), "script")
	require.NoError(t, err)
	var commands [][]string
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}
		args := make([]string, 0, len(call.Args))
		for _, word := range call.Args {
			// parameter expansions have no literal value outside a shell
			lit, err := expand.Literal(nil, word)
			if err != nil {
				lit = ""
			}
			args = append(args, lit)
		}
		commands = append(commands, args)
		return true
	})
	return commands
}

func TestRenderPOSIXScript(t *testing.T) {
	g := newGameDir(t)
	scriptPath := ScriptPath(g.modsDir, "linux")
	script, err := renderScript(scriptPOSIX, newScriptData(scriptPath, g.modsDir, 3*time.Second, g.staged))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))

	commands := commandsOf(t, script)
	foo, bar := g.staged[0], g.staged[1]
	expected := [][]string{
		{"sleep", "3"},
		{"rm", "-f", "--", foo.LocalPath},
		{"mv", "-f", "--", foo.TempPath, filepath.Join(g.modsDir, "foo-1.1.0.jar")},
		{"rm", "-f", "--", bar.LocalPath},
		{"mv", "-f", "--", bar.TempPath, filepath.Join(g.modsDir, "bar-addon-1.1.0.jar")},
		{"rm", "-rf", "--", foo.TempDir()},
		{"rm", "-rf", "--", bar.TempDir()},
		{"rm", "-f", "--", scriptPath},
	}
	filtered := make([][]string, 0, len(expected))
	for _, c := range commands {
		if c[0] == "sleep" || c[0] == "rm" || c[0] == "mv" {
			filtered = append(filtered, c)
		}
	}
	require.Equal(t, expected, filtered)
	require.Equal(t, []string{"read", "-r", "reply"}, commands[len(commands)-1])
	require.Contains(t, commands, []string{"echo", "Updating Bar Addon..."})
	require.Contains(t, commands, []string{"[", "-f", foo.TempPath, "]"})
	require.Contains(t, commands, []string{"echo", "Installed: foo-1.1.0.jar"})
}

func runScript(t *testing.T, g *gameDir, scriptPath string) string {
	script, err := renderScript(scriptPOSIX, newScriptData(scriptPath, g.modsDir, 0, g.staged))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	file, err := syntax.NewParser().Parse(strings.NewReader(script), scriptPath)
	require.NoError(t, err)
	var out strings.Builder
	runner, err := interp.New(
		interp.Dir(g.modsDir),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(strings.NewReader("\n"), &out, &out),
	)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), file))
	return out.String()
}

func modsDirNames(t *testing.T, modsDir string) []string {
	entries, err := os.ReadDir(modsDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunPOSIXScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix script")
	}
	g := newGameDir(t)
	scriptPath := ScriptPath(g.modsDir, runtime.GOOS)
	out := runScript(t, g, scriptPath)

	require.ElementsMatch(t, []string{"foo-1.1.0.jar", "bar-addon-1.1.0.jar"}, modsDirNames(t, g.modsDir))
	content, err := os.ReadFile(filepath.Join(g.modsDir, "foo-1.1.0.jar"))
	require.NoError(t, err)
	require.Equal(t, "new Foo", string(content))
	for _, s := range g.staged {
		_, err := os.Stat(s.TempDir())
		require.True(t, os.IsNotExist(err))
	}
	_, err = os.Stat(scriptPath)
	require.True(t, os.IsNotExist(err))
	require.Contains(t, out, "Installed: foo-1.1.0.jar")
	require.Contains(t, out, "Done. Start the game again")
	require.NotContains(t, out, "ERROR")
}

func TestRunPOSIXScriptMissingArchive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix script")
	}
	g := newGameDir(t)
	require.NoError(t, os.RemoveAll(g.staged[0].TempDir()))
	out := runScript(t, g, ScriptPath(g.modsDir, runtime.GOOS))

	// the installed archive survives when its replacement is gone
	require.ElementsMatch(t, []string{"foo-1.0.0.jar", "bar-addon-1.1.0.jar"}, modsDirNames(t, g.modsDir))
	content, err := os.ReadFile(filepath.Join(g.modsDir, "foo-1.0.0.jar"))
	require.NoError(t, err)
	require.Equal(t, "old Foo", string(content))
	require.Contains(t, out, "ERROR: the downloaded archive of Foo is missing, keeping the installed version")
	require.Contains(t, out, "Installed: bar-addon-1.1.0.jar")
	require.Contains(t, out, "Some updates failed, see the messages above.")
	require.NotContains(t, out, "Done. Start the game again")
}

func batchLines(script string) []string {
	lines := strings.Split(script, "\r\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}

func TestRenderBatchScript(t *testing.T) {
	staged := addon.StagedUpdates{{
		UpdateInfo: &addon.UpdateInfo{AddonName: "100% Foo & Bar", LocalPath: `C:\game\mods\foo-1.0.0.jar`},
		TempPath:   `C:\Temp\meteor-addons-update-1\foo-1.1.0.jar`,
	}}
	script, err := renderScript(scriptBatch, newScriptData(`C:\game\meteor-addon-updater.bat`, `C:\game\mods`, 3*time.Second, staged))
	require.NoError(t, err)
	require.NotContains(t, strings.ReplaceAll(script, "\r\n", ""), "\n")

	lines := batchLines(script)
	require.Equal(t, "@echo off", lines[0])
	require.Contains(t, lines, "timeout /t 3 /nobreak > nul")
	require.Contains(t, lines, "set failed=0")
	require.Contains(t, lines, "echo Updating 100%% Foo ^& Bar...")
	require.Contains(t, lines, `if exist "C:\Temp\meteor-addons-update-1\foo-1.1.0.jar" (`)
	require.Contains(t, lines, `del /f /q "C:\game\mods\foo-1.0.0.jar" && echo Deleted old archive`)
	require.Contains(t, lines, "if errorlevel 1 (")
	require.Contains(t, lines, "echo ERROR: the downloaded archive of 100%% Foo ^& Bar is missing, keeping the installed version")
	require.Contains(t, lines, `if "%failed%"=="0" (`)
	require.Contains(t, lines, "pause")
	require.Contains(t, lines, `(goto) 2>nul & del /f /q "%~f0"`)

	// filepath separators differ per host, so only check the quoting here
	require.Contains(t, script, `move /y "C:\Temp\meteor-addons-update-1\foo-1.1.0.jar" "`)
	require.Contains(t, script, `rmdir /s /q "`)
}

func TestRenderScriptStripsControlCharacters(t *testing.T) {
	staged := addon.StagedUpdates{{
		UpdateInfo: &addon.UpdateInfo{AddonName: "Foo\r\ndel /q C:\\*", LocalPath: `C:\game\mods\foo-1.0.0.jar`},
		TempPath:   `C:\Temp\meteor-addons-update-1\foo-1.1.0.jar`,
	}}
	script, err := renderScript(scriptBatch, newScriptData(`C:\game\meteor-addon-updater.bat`, `C:\game\mods`, 0, staged))
	require.NoError(t, err)
	lines := batchLines(script)
	require.Contains(t, lines, `echo Updating Foo  del /q C:\*...`)
	for _, l := range lines {
		require.False(t, strings.HasPrefix(l, "del /q"), l)
	}

	posix, err := renderScript(scriptPOSIX, newScriptData("/game/meteor-addon-updater.sh", "/game/mods", 0, staged))
	require.NoError(t, err)
	require.Contains(t, commandsOf(t, posix), []string{"echo", `Updating Foo  del /q C:\*...`})
}

func TestBatchEcho(t *testing.T) {
	require.Equal(t, "Foo ^(beta^)  echo x", batchEcho("Foo (beta)\r\necho x"))
	require.Equal(t, "a ^& b ^| c ^> d ^< e", batchEcho("a & b | c > d < e"))
	require.Equal(t, "100%%", batchEcho("100%"))
}

func TestScriptPath(t *testing.T) {
	require.Equal(t, filepath.Join("game", "meteor-addon-updater.sh"), ScriptPath(filepath.Join("game", "mods"), "linux"))
	require.Equal(t, filepath.Join("game", "meteor-addon-updater.bat"), ScriptPath(filepath.Join("game", "mods")+string(filepath.Separator), "windows"))
}

func TestLaunchArgs(t *testing.T) {
	noTerminal := func(string) (string, error) { return "", exec.ErrNotFound }
	require.Equal(t, []string{"cmd", "/c", "start", "Meteor Addon Updater", "u.bat"}, launchArgs("windows", "u.bat", noTerminal))
	require.Equal(t, []string{"open", "-a", "Terminal", "u.sh"}, launchArgs("darwin", "u.sh", noTerminal))
	require.Equal(t, []string{"/bin/sh", "u.sh"}, launchArgs("linux", "u.sh", noTerminal))

	onlyXterm := func(file string) (string, error) {
		if file == "xterm" || file == "alacritty" {
			return "/usr/bin/" + file, nil
		}
		return "", exec.ErrNotFound
	}
	require.Equal(t, []string{"/usr/bin/xterm", "-e", "/bin/sh", "u.sh"}, launchArgs("linux", "u.sh", onlyXterm))

	gnome := func(file string) (string, error) { return "/usr/bin/" + file, nil }
	require.Equal(t, []string{"/usr/bin/gnome-terminal", "--", "/bin/sh", "u.sh"}, launchArgs("freebsd", "u.sh", gnome))
}

func TestInstall(t *testing.T) {
	g := newGameDir(t)
	launcher := &fakeLauncher{}
	stopper := &fakeStopper{stopped: make(chan struct{})}
	inst := NewWithLauncher(testLogger(), stopper, launcher, Options{
		ModsDir: g.modsDir,
		Wait:    3 * time.Second,
		Grace:   10 * time.Millisecond,
		GOOS:    "linux",
	})
	scriptPath, err := inst.Install(g.staged)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(filepath.Dir(g.modsDir), "meteor-addon-updater.sh"), scriptPath)
	require.Equal(t, []string{scriptPath}, launcher.scripts)

	content, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	require.Contains(t, string(content), "sleep 3")
	fi, err := os.Stat(scriptPath)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		require.NotZero(t, fi.Mode().Perm()&0o100)
	}

	select {
	case <-stopper.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("host was not stopped")
	}
	// the installer leaves the live files alone, the script does the swap
	_, err = os.Stat(g.staged[0].LocalPath)
	require.NoError(t, err)
}

func TestInstallFailures(t *testing.T) {
	g := newGameDir(t)
	stopper := &fakeStopper{stopped: make(chan struct{})}

	inst := NewWithLauncher(testLogger(), stopper, &fakeLauncher{}, Options{ModsDir: g.modsDir, GOOS: "linux"})
	_, err := inst.Install(nil)
	require.True(t, errors.Is(err, ErrNothingStaged))

	inst = NewWithLauncher(testLogger(), stopper, &fakeLauncher{}, Options{ModsDir: g.modsDir, GOOS: "plan9"})
	_, err = inst.Install(g.staged)
	require.True(t, errors.Is(err, ErrUnsupportedPlatform))
	_, err = os.Stat(ScriptPath(g.modsDir, "plan9"))
	require.True(t, os.IsNotExist(err))

	inst = NewWithLauncher(testLogger(), stopper, &fakeLauncher{err: exec.ErrNotFound}, Options{ModsDir: g.modsDir, GOOS: "linux"})
	scriptPath, err := inst.Install(g.staged)
	require.Error(t, err)
	require.True(t, errors.Is(err, exec.ErrNotFound))
	// the script stays around so it can be run by hand
	_, err = os.Stat(scriptPath)
	require.NoError(t, err)

	select {
	case <-stopper.stopped:
		t.Fatal("host must keep running when the script could not be launched")
	case <-time.After(50 * time.Millisecond):
	}
}
