// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import "strings"

// SplitCommand splits a command line into argv. Single and double quotes
// group words; a backslash escapes the next rune except inside single
// quotes. No shell expansion is performed.
func SplitCommand(cmd string) []string {
	var result []string
	var current strings.Builder
	var inQuote rune
	var escape, quoted bool

	for _, r := range cmd {
		if escape {
			current.WriteRune(r)
			escape = false
			continue
		}
		if r == '\\' && inQuote != '\'' {
			escape = true
			continue
		}
		if inQuote != 0 {
			if r == inQuote {
				inQuote = 0
			} else {
				current.WriteRune(r)
			}
			continue
		}
		switch r {
		case '"', '\'':
			inQuote = r
			quoted = true
		case ' ', '\t', '\n':
			if current.Len() > 0 || quoted {
				result = append(result, current.String())
				current.Reset()
				quoted = false
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 || quoted {
		result = append(result, current.String())
	}
	return result
}
