package installer

import (
	"os/exec"
)

const windowTitle = "Meteor Addon Updater"

var linuxTerminals = []struct {
	name string
	args []string
}{
	{name: "gnome-terminal", args: []string{"--"}},
	{name: "konsole", args: []string{"-e"}},
	{name: "xfce4-terminal", args: []string{"-x"}},
	{name: "mate-terminal", args: []string{"-x"}},
	{name: "xterm", args: []string{"-e"}},
	{name: "kitty"},
	{name: "alacritty", args: []string{"-e"}},
}

// Launcher starts the installer script without waiting for it.
type Launcher interface {
	Launch(goos, script string) error
}

type LookPathFunc func(file string) (string, error)

// launchArgs opens the script in a new terminal window where one is known and
// falls back to running it with sh directly.
func launchArgs(goos, script string, lookPath LookPathFunc) []string {
	switch goos {
	case "windows":
		return []string{"cmd", "/c", "start", windowTitle, script}
	case "darwin":
		return []string{"open", "-a", "Terminal", script}
	}
	for _, term := range linuxTerminals {
		p, err := lookPath(term.name)
		if err != nil {
			continue
		}
		args := append([]string{p}, term.args...)
		return append(args, "/bin/sh", script)
	}
	return []string{"/bin/sh", script}
}

type execLauncher struct {
	lookPath LookPathFunc
}

func (l *execLauncher) Launch(goos, script string) error {
	args := launchArgs(goos, script, l.lookPath)
	cmd := exec.Command(args[0], args[1:]...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
