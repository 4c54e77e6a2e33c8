// Package modsdir reads module descriptors straight from a mods directory, for
// hosts that do not run inside the game client.
package modsdir

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
)

const descriptorName = "fabric.mod.json"

var errNoDescriptor = errors.New("no " + descriptorName)

type descriptor struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Version     string                     `json:"version"`
	Description string                     `json:"description"`
	Authors     []json.RawMessage          `json:"authors"`
	Contact     map[string]string          `json:"contact"`
	Entrypoints map[string]json.RawMessage `json:"entrypoints"`
}

type person struct {
	Name string `json:"name"`
}

func (d *descriptor) authors() []string {
	ret := make([]string, 0, len(d.Authors))
	for _, raw := range d.Authors {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			ret = append(ret, name)
			continue
		}
		var p person
		if err := json.Unmarshal(raw, &p); err == nil && p.Name != "" {
			ret = append(ret, p.Name)
		}
	}
	return ret
}

func (d *descriptor) toModule(root string) addon.Module {
	entrypoints := make([]string, 0, len(d.Entrypoints))
	for k := range d.Entrypoints {
		entrypoints = append(entrypoints, k)
	}
	sort.Strings(entrypoints)
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return addon.Module{
		ID:          d.ID,
		Name:        name,
		Version:     d.Version,
		Description: d.Description,
		Authors:     d.authors(),
		Contact:     d.Contact,
		RootPaths:   []string{root},
		Entrypoints: entrypoints,
	}
}

// Source implements locator.ModuleSource over a directory of archives.
type Source struct {
	log *logrus.Logger
	dir string
}

func New(log *logrus.Logger, dir string) *Source {
	return &Source{log: log, dir: dir}
}

func (s *Source) Dir() string {
	return s.dir
}

// Modules lists every archive or exploded module directory that carries a
// descriptor. Unreadable entries are logged and skipped.
func (s *Source) Modules() ([]addon.Module, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mods directory: %w", err)
	}
	modules := make([]addon.Module, 0, len(entries))
	for _, e := range entries {
		p, err := filepath.Abs(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var m *addon.Module
		switch {
		case e.IsDir():
			m, err = readDir(p)
		case strings.HasSuffix(strings.ToLower(e.Name()), ".jar"):
			m, err = readArchive(p)
		default:
			continue
		}
		if errors.Is(err, errNoDescriptor) {
			continue
		}
		if err != nil {
			s.log.WithField("file", e.Name()).Warnf("failed to read module descriptor: %v", err)
			continue
		}
		modules = append(modules, *m)
	}
	return modules, nil
}

// ArchiveRoot builds the nested archive URI the host reports for a packed module.
func ArchiveRoot(path string) string {
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return "jar:" + u.String() + "!/"
}

func readArchive(path string) (*addon.Module, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	f, err := zr.Open(descriptorName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNoDescriptor
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := decodeDescriptor(f)
	if err != nil {
		return nil, err
	}
	m := d.toModule(ArchiveRoot(path))
	return &m, nil
}

func readDir(path string) (*addon.Module, error) {
	f, err := os.Open(filepath.Join(path, descriptorName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNoDescriptor
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := decodeDescriptor(f)
	if err != nil {
		return nil, err
	}
	m := d.toModule(path)
	return &m, nil
}

func decodeDescriptor(r io.Reader) (*descriptor, error) {
	d := new(descriptor)
	if err := json.NewDecoder(r).Decode(d); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", descriptorName, err)
	}
	if d.ID == "" {
		return nil, fmt.Errorf("invalid %s: missing id", descriptorName)
	}
	return d, nil
}
