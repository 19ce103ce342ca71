package main

import (
	"fmt"
	"strconv"
)

// Set at build time with -ldflags "-X main.gitSHA1=...".
var (
	version   string = "0.1.0"
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildDate string = "unknown"
)

// Version returns the release with git commit and working tree status when
// they were stamped into the binary.
func Version() string {
	v := version
	if sha1Int, err := strconv.ParseUint(gitSHA1, 16, 64); err == nil && sha1Int != 0 {
		v = fmt.Sprintf("%s (git:%s", v, gitSHA1)
		if dirtyInt, err := strconv.ParseInt(gitDirty, 10, 64); err == nil && dirtyInt != 0 {
			v += "-dirty"
		}
		v += ")"
	}
	if buildDate != "unknown" {
		v = fmt.Sprintf("%s built %s", v, buildDate)
	}
	return v
}
