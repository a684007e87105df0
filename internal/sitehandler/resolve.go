package sitehandler

import (
	"io/fs"
	"path"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/pathutil"
)

// resolvePath maps a url path onto the exported site.
//
//	/            -> index.html
//	/about/      -> about/index.html
//	/about       -> about.html, or a 308 to /about/ when only about/index.html exists
//	/img/a.png   -> img/a.png
//
// redirectTo is set when the caller should redirect instead of serving.
func resolvePath(urlPath string, fsys fs.FS) (file string, redirectTo string, ok bool) {
	name, dir, safe := pathutil.SiteName(urlPath)
	if !safe {
		return "", "", false
	}
	if name == "" {
		return lookup(fsys, "index.html")
	}

	if dir {
		return lookup(fsys, name+"/index.html")
	}
	if path.Ext(name) != "" {
		return lookup(fsys, name)
	}
	if existsFile(fsys, name+".html") {
		return name + ".html", "", true
	}
	if existsFile(fsys, name+"/index.html") {
		return "", "/" + name + "/", true
	}
	return "", "", false
}

func lookup(fsys fs.FS, name string) (string, string, bool) {
	if existsFile(fsys, name) {
		return name, "", true
	}
	return "", "", false
}

func existsFile(fsys fs.FS, name string) bool {
	if fsys == nil || name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
