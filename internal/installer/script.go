package installer

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"
	"unicode"

	"github.com/meteor-addons/addon-updater/pkg/addon"
	"mvdan.cc/sh/v3/syntax"
)

const scriptBaseName = "meteor-addon-updater"

type scriptKind int

const (
	scriptPOSIX scriptKind = iota
	scriptBatch
)

func (k scriptKind) ext() string {
	if k == scriptBatch {
		return ".bat"
	}
	return ".sh"
}

type scriptStep struct {
	Name    string
	OldPath string
	NewTemp string
	Target  string
}

type scriptData struct {
	Script      string
	WaitSeconds int
	Steps       []scriptStep
	TempDirs    []string
}

var posixTemplate = template.Must(template.New("posix").Funcs(template.FuncMap{
	"sh":   shQuote,
	"base": filepath.Base,
}).Parse(`#!/bin/sh
echo 'Meteor Addon Updater'
echo 'Waiting for the game to exit...'
sleep {{.WaitSeconds}}
failed=0
{{range .Steps}}
echo {{printf "Updating %s..." .Name | sh}}
if [ -f {{sh .NewTemp}} ]; then
{{- if .OldPath}}
	rm -f -- {{sh .OldPath}} && echo 'Deleted old archive'
{{- end}}
	if mv -f -- {{sh .NewTemp}} {{sh .Target}}; then
		echo {{printf "Installed: %s" (base .Target) | sh}}
	else
		echo {{printf "ERROR: failed to move the new archive of %s" .Name | sh}}
		failed=1
	fi
else
	echo {{printf "ERROR: the downloaded archive of %s is missing, keeping the installed version" .Name | sh}}
	failed=1
fi
{{end}}
{{range .TempDirs}}rm -rf -- {{sh .}}
{{end}}rm -f -- {{sh .Script}}
if [ "$failed" -eq 0 ]; then
	echo 'Done. Start the game again to load the updated addons.'
else
	echo 'Some updates failed, see the messages above.'
fi
printf 'Press enter to close this window...'
read -r reply
`))

var batchTemplate = template.Must(template.New("batch").Funcs(template.FuncMap{
	"bat":  batchQuote,
	"echo": batchEcho,
	"base": filepath.Base,
}).Parse(`@echo off
title Meteor Addon Updater
echo Waiting for the game to exit...
timeout /t {{.WaitSeconds}} /nobreak > nul
set failed=0
{{range .Steps}}
echo {{printf "Updating %s..." .Name | echo}}
if exist {{bat .NewTemp}} (
{{- if .OldPath}}
	del /f /q {{bat .OldPath}} && echo Deleted old archive
{{- end}}
	move /y {{bat .NewTemp}} {{bat .Target}} > nul
	if errorlevel 1 (
		echo {{printf "ERROR: failed to move the new archive of %s" .Name | echo}}
		set failed=1
	) else (
		echo {{printf "Installed: %s" (base .Target) | echo}}
	)
) else (
	echo {{printf "ERROR: the downloaded archive of %s is missing, keeping the installed version" .Name | echo}}
	set failed=1
)
{{end}}
{{range .TempDirs}}rmdir /s /q {{bat .}}
{{end}}if "%failed%"=="0" (
	echo Done. Start the game again to load the updated addons.
) else (
	echo Some updates failed, see the messages above.
)
pause
(goto) 2>nul & del /f /q "%~f0"
`))

func shQuote(s string) (string, error) {
	return syntax.Quote(s, syntax.LangPOSIX)
}

func batchQuote(s string) string {
	return `"` + strings.ReplaceAll(s, "%", "%%") + `"`
}

var batchEchoReplacer = strings.NewReplacer(
	"%", "%%",
	"(", "^(",
	")", "^)",
	"^", "^^",
	"&", "^&",
	"|", "^|",
	"<", "^<",
	">", "^>",
)

func batchEcho(s string) string {
	return batchEchoReplacer.Replace(stripControl(s))
}

// stripControl replaces line breaks and other control characters, which would
// otherwise start a new command in the generated script.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}

func newScriptData(script, modsDir string, wait time.Duration, staged addon.StagedUpdates) *scriptData {
	data := &scriptData{
		Script:      script,
		WaitSeconds: int(wait.Round(time.Second) / time.Second),
	}
	seen := make(map[string]bool)
	for _, s := range staged {
		targetDir := modsDir
		if s.LocalPath != "" {
			targetDir = filepath.Dir(s.LocalPath)
		}
		data.Steps = append(data.Steps, scriptStep{
			Name:    stripControl(s.AddonName),
			OldPath: s.LocalPath,
			NewTemp: s.TempPath,
			Target:  filepath.Join(targetDir, filepath.Base(s.TempPath)),
		})
		if dir := s.TempDir(); !seen[dir] {
			seen[dir] = true
			data.TempDirs = append(data.TempDirs, dir)
		}
	}
	return data
}

func renderScript(kind scriptKind, data *scriptData) (string, error) {
	tmpl := posixTemplate
	if kind == scriptBatch {
		tmpl = batchTemplate
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render installer script: %w", err)
	}
	if kind == scriptBatch {
		return strings.ReplaceAll(buf.String(), "\n", "\r\n"), nil
	}
	return buf.String(), nil
}

// ScriptPath is where the installer script is written: next to the mods directory.
func ScriptPath(modsDir, goos string) string {
	kind := scriptPOSIX
	if goos == "windows" {
		kind = scriptBatch
	}
	return filepath.Join(filepath.Dir(filepath.Clean(modsDir)), scriptBaseName+kind.ext())
}
