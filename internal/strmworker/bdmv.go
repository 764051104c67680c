package strmworker

import (
	"strings"

	"cloudgather/internal/openlist"
)

// collapseBDMV implements the Blu-ray disc structure collapsing pass:
// entries under a "/BDMV/STREAM/" directory are grouped by their disc root
// (the directory two levels above STREAM), and only the largest .m2ts
// sibling survives, renamed (for .strm-naming purposes) after the disc
// root's own directory name rather than its raw segment filename.
func collapseBDMV(videos []openlist.Entry) []openlist.Entry {
	const marker = "/BDMV/STREAM/"

	groups := map[string][]openlist.Entry{}
	var out []openlist.Entry
	for _, v := range videos {
		idx := strings.Index(v.Path, marker)
		if idx < 0 || v.Ext() != "m2ts" {
			out = append(out, v)
			continue
		}
		discRoot := v.Path[:idx]
		groups[discRoot] = append(groups[discRoot], v)
	}

	for discRoot, group := range groups {
		largest := group[0]
		for _, g := range group[1:] {
			if g.Size > largest.Size {
				largest = g
			}
		}
		movieName := baseName(discRoot)
		largest.Name = movieName + ".m2ts"
		out = append(out, largest)
	}
	return out
}

func baseName(path string) string {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
