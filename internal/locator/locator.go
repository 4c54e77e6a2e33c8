package locator

import (
	"os"
	"sync"

	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
)

// ModuleSource enumerates the modules loaded by the host.
type ModuleSource interface {
	Modules() ([]addon.Module, error)
}

type Locator struct {
	log        *logrus.Logger
	source     ModuleSource
	entrypoint string
	paths      sync.Map
}

func New(log *logrus.Logger, source ModuleSource, entrypoint string) *Locator {
	return &Locator{
		log:        log,
		source:     source,
		entrypoint: entrypoint,
	}
}

// Scan returns every loaded module that registers the addon entrypoint.
func (l *Locator) Scan() []*addon.InstalledAddonRef {
	modules, err := l.source.Modules()
	if err != nil {
		l.log.Warnf("failed to enumerate modules: %v", err)
		return nil
	}
	refs := make([]*addon.InstalledAddonRef, 0, len(modules))
	for _, m := range modules {
		if l.entrypoint != "" && !m.HasEntrypoint(l.entrypoint) {
			continue
		}
		refs = append(refs, addon.NewInstalledAddonRef(m))
	}
	return refs
}

// ResolveArchivePath returns the archive an installed addon was loaded from.
// The first root that resolves to an existing file wins and is remembered.
func (l *Locator) ResolveArchivePath(ref *addon.InstalledAddonRef) (string, bool) {
	if ref == nil {
		return "", false
	}
	if p, ok := l.paths.Load(ref.ID); ok {
		return p.(string), true
	}
	log := l.log.WithField("addon", ref.ID)
	for _, root := range ref.RootPaths {
		p, err := ArchivePathFromRoot(root)
		if err != nil {
			log.Debugf("could not resolve root %q: %v", root, err)
			continue
		}
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			log.Debugf("archive %s is not a regular file", p)
			continue
		}
		l.paths.Store(ref.ID, p)
		return p, true
	}
	log.Debug("no archive path found")
	return "", false
}

// Forget drops remembered archive paths, e.g. after the mods directory changed.
func (l *Locator) Forget() {
	l.paths.Range(func(key, _ any) bool {
		l.paths.Delete(key)
		return true
	})
}
