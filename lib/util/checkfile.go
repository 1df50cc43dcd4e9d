package util

import (
	"os"
)

// CheckFileExists reports whether fpath can be stat'ed.
func CheckFileExists(fpath string) bool {
	_, e := os.Stat(fpath)
	return e == nil
}

// CheckRegularFile reports whether fpath exists and is a regular file.
// Bundles and key files must be regular files; directories and devices are rejected.
func CheckRegularFile(fpath string) bool {
	info, err := os.Stat(fpath)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
