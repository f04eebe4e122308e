// SPDX-License-Identifier: GPL-3.0-or-later

package rpkiclient

import (
	"fmt"
	"net/url"
	"strings"
)

// HostFromPath extracts the repository hostname from a cache-relative
// path. Three shapes occur:
//
//	rpki.example.org/dir/file.ext
//	rsync/rpki.example.org/dir/file.ext      (also .rsync/)
//	rrdp/<hash>/rpki.example.org/file.ext    (also .rrdp/)
func HostFromPath(path string) (string, error) {
	tokens := strings.Split(path, "/")
	if len(tokens) < 2 {
		return "", fmt.Errorf("expected at least one slash in path '%s'", path)
	}

	switch tokens[0] {
	case "rrdp", ".rrdp":
		tokens = tokens[2:]
	case "rsync", ".rsync":
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return "", fmt.Errorf("no host component in path '%s'", path)
	}

	u, err := url.Parse("//" + strings.Join(tokens, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing path '%s': %w", path, err)
	}

	return u.Host, nil
}

// hostURI reduces a repository URI to its scheme and host, or to the bare
// host when there is no scheme.
func hostURI(uri string) string {
	if scheme, rest, ok := strings.Cut(uri, "://"); ok {
		host, _, _ := strings.Cut(rest, "/")
		return scheme + "://" + host
	}
	host, _, _ := strings.Cut(uri, "/")
	return host
}
