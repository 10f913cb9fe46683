// Package hosts manages the siteblock-owned block in the system hosts file.
package hosts

import (
	"sort"
	"strings"
)

const (
	// Path is the system hosts file location.
	Path = "/etc/hosts"
	// BackupPath is the fixed path the elevated transaction backs up to.
	BackupPath = "/etc/hosts.siteblock.bak"

	// Markers delimiting the managed block.
	markerBegin = "# BEGIN SITE-BLOCKER"
	markerEnd   = "# END SITE-BLOCKER"

	loopback = "127.0.0.1"
)

// StripBlock removes every managed region from the hosts content,
// preserving all foreign lines byte-for-byte. Trailing blank lines are
// dropped and the result ends with exactly one newline.
func StripBlock(content string) string {
	lines := strings.Split(content, "\n")
	var kept []string
	inBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == markerBegin {
			inBlock = true
			continue
		}
		if trimmed == markerEnd {
			inBlock = false
			continue
		}
		if !inBlock {
			kept = append(kept, line)
		}
	}

	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}

	return strings.Join(kept, "\n") + "\n"
}

// BuildContent strips any existing managed block and, when domains is
// non-empty, appends a fresh one. Each domain maps to the loopback
// address, with a www. alias unless it already carries the prefix.
// Domains are emitted in lexicographic order so output is deterministic
// regardless of storage order.
func BuildContent(original string, domains []string) string {
	stripped := StripBlock(original)
	if len(domains) == 0 {
		return stripped
	}

	sorted := append([]string(nil), domains...)
	sort.Strings(sorted)

	var sb strings.Builder
	sb.WriteString(markerBegin)
	sb.WriteString("\n")
	for _, d := range sorted {
		sb.WriteString(loopback + " " + d + "\n")
		if !strings.HasPrefix(d, "www.") {
			sb.WriteString(loopback + " www." + d + "\n")
		}
	}
	sb.WriteString(markerEnd)
	sb.WriteString("\n")

	return strings.TrimRight(stripped, " \t\n") + "\n\n" + sb.String()
}

// IsActive reports whether both marker lines occur in the content. This
// is a presence check, not a structural one; StripBlock rewrites any
// malformed region into a single well-formed block on the next apply.
func IsActive(content string) bool {
	return strings.Contains(content, markerBegin) && strings.Contains(content, markerEnd)
}
