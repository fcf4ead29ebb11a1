package export

import "strings"

// Rectify maps a repository-relative master path to its working-tree
// form: the caller's prefix is stripped, Attic/ and RCS/ components are
// elided, and a trailing ,v is removed.
func Rectify(path string, stripPrefix string) string {
	if stripPrefix != "" {
		path = strings.TrimPrefix(path, stripPrefix)
	}
	path = strings.TrimSuffix(path, ",v")
	var sb strings.Builder
	sb.Grow(len(path))
	start := 0
	for start <= len(path) {
		end := strings.IndexByte(path[start:], '/')
		if end < 0 {
			sb.WriteString(path[start:])
			break
		}
		comp := path[start : start+end]
		if comp != "Attic" && comp != "RCS" {
			sb.WriteString(comp)
			sb.WriteByte('/')
		}
		start += end + 1
	}
	return sb.String()
}

// fileopName maps a rectified name to the path written in fileops: a
// .cvsignore basename becomes .gitignore.
func fileopName(rectified string) string {
	if rectified == ".cvsignore" || strings.HasSuffix(rectified, "/.cvsignore") {
		return rectified[:len(rectified)-len(".cvsignore")] + ".gitignore"
	}
	return rectified
}
