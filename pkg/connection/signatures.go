package connection

import "strings"

// errorSignatures are substrings that mark a command as failed regardless
// of its exit code. Firmware tools on some platforms report faults on
// stdout and still exit zero.
var errorSignatures = []string{
	"command not found",
	"permission denied",
	"no such file or directory",
	"segmentation fault",
	"kernel panic",
	"out of memory",
	"i/o error",
	"connection refused",
	"authentication failure",
}

// ScanForErrorSignature returns the first recognized error signature found
// in the combined output, or "" when the output is clean. Matching is
// case-insensitive.
func ScanForErrorSignature(stdout, stderr string) string {
	combined := strings.ToLower(stdout + "\n" + stderr)
	for _, sig := range errorSignatures {
		if strings.Contains(combined, sig) {
			return sig
		}
	}
	return ""
}
