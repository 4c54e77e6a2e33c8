package installer

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
)

var (
	ErrNothingStaged       = errors.New("no staged updates to install")
	ErrUnsupportedPlatform = errors.New("automatic installation is not supported on this platform, replace the files manually")
)

// Stopper asks the host to shut down gracefully.
type Stopper interface {
	ScheduleStop()
}

type Options struct {
	ModsDir string
	// Wait is how long the script waits for the host to release its files.
	Wait time.Duration
	// Grace is how long the host keeps running after the script was launched.
	Grace time.Duration
	// GOOS defaults to runtime.GOOS.
	GOOS string
}

type Installer struct {
	log      *logrus.Logger
	stopper  Stopper
	launcher Launcher
	opts     Options
}

func New(log *logrus.Logger, stopper Stopper, opts Options) *Installer {
	return NewWithLauncher(log, stopper, &execLauncher{lookPath: exec.LookPath}, opts)
}

func NewWithLauncher(log *logrus.Logger, stopper Stopper, launcher Launcher, opts Options) *Installer {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	return &Installer{
		log:      log,
		stopper:  stopper,
		launcher: launcher,
		opts:     opts,
	}
}

func kindFor(goos string) (scriptKind, error) {
	switch goos {
	case "windows":
		return scriptBatch, nil
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "dragonfly":
		return scriptPOSIX, nil
	}
	return 0, fmt.Errorf("%w (%s)", ErrUnsupportedPlatform, goos)
}

// Install writes the deferred installer script, launches it and schedules the
// host shutdown so the script can replace the archives once they are unlocked.
// It returns the path of the script.
func (i *Installer) Install(staged addon.StagedUpdates) (string, error) {
	if len(staged) == 0 {
		return "", ErrNothingStaged
	}
	kind, err := kindFor(i.opts.GOOS)
	if err != nil {
		i.log.Error(err)
		return "", err
	}
	scriptPath := ScriptPath(i.opts.ModsDir, i.opts.GOOS)
	script, err := renderScript(kind, newScriptData(scriptPath, i.opts.ModsDir, i.opts.Wait, staged))
	if err != nil {
		i.log.Errorf("could not create installer script: %v", err)
		return "", err
	}
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		i.log.Errorf("could not write installer script: %v", err)
		return "", fmt.Errorf("failed to write installer script: %w", err)
	}
	if err := i.launcher.Launch(i.opts.GOOS, scriptPath); err != nil {
		i.log.Errorf("could not launch installer script %s, run it manually: %v", scriptPath, err)
		return scriptPath, fmt.Errorf("failed to launch installer script: %w", err)
	}
	i.log.Infof("launched installer script %s for %d update(s), stopping in %s", scriptPath, len(staged), i.opts.Grace)
	time.AfterFunc(i.opts.Grace, i.stopper.ScheduleStop)
	return scriptPath, nil
}
