// Package pathutil turns request paths into names an fs.FS will accept.
package pathutil

import (
	"path"
	"strings"
)

// SiteName maps a url path onto a slash-separated name relative to the site
// root. name is "" for the root, dir reports a trailing slash. ok is false
// for paths carrying NUL bytes, backslashes, dot segments or any "..".
func SiteName(urlPath string) (name string, dir bool, ok bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "\x00\\") || strings.Contains(p, "..") {
		return "", false, false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." {
			return "", false, false
		}
	}
	dir = strings.HasSuffix(p, "/")
	return strings.TrimPrefix(path.Clean(p), "/"), dir, true
}
