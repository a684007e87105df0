package sitehandler

import (
	"io/fs"
	"os"
)

// Static serves a fixed FS, typically the embedded seed site. A nil FS means
// nothing is deployed.
type Static struct {
	FS fs.FS
}

func (s Static) Site() (fs.FS, bool) { return s.FS, s.FS != nil }

// Dir serves an exported build from disk. The site counts as deployed once
// index.html exists, so an empty volume shows the maintenance page until the
// first export lands.
type Dir struct {
	fsys fs.FS
}

func NewDir(path string) Dir {
	return Dir{fsys: os.DirFS(path)}
}

func (d Dir) Site() (fs.FS, bool) {
	if !existsFile(d.fsys, "index.html") {
		return nil, false
	}
	return d.fsys, true
}

// First returns the first provider that has a site.
type First []SiteProvider

func (f First) Site() (fs.FS, bool) {
	for _, p := range f {
		if p == nil {
			continue
		}
		if fsys, ok := p.Site(); ok {
			return fsys, true
		}
	}
	return nil, false
}
