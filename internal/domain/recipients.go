package domain

import (
	"slices"
	"strings"
)

// Participants returns the lowercased addresses of lists that are not yet in
// existing. The requester and the system mailbox are never participants.
func Participants(requester, system string, existing []string, lists ...[]string) []string {
	requester = strings.ToLower(strings.TrimSpace(requester))
	system = strings.ToLower(strings.TrimSpace(system))
	var out []string
	for _, list := range lists {
		for _, addr := range list {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr == "" || addr == requester || addr == system {
				continue
			}
			if slices.Contains(existing, addr) || slices.Contains(out, addr) {
				continue
			}
			out = append(out, addr)
		}
	}
	return out
}
