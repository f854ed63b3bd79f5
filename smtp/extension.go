// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

package smtp

import "strings"

// Extensions is the parsed set of capabilities a server advertised in its EHLO response,
// keyed by extension keyword with any trailing parameters as the value.
type Extensions map[string]string

// ParseExtensions parses the text lines of a multiline EHLO 250 reply (the domain/greeting
// line excluded) into an Extensions set, and lifts the "AUTH" line into a mechanism list.
func ParseExtensions(lines []string) (Extensions, []string) {
	ext := make(Extensions)
	var authMechs []string
	if len(lines) == 0 {
		return ext, authMechs
	}
	for _, line := range lines[1:] {
		keyword, params, _ := strings.Cut(line, " ")
		keyword = strings.ToUpper(keyword)
		ext[keyword] = params
		if keyword == "AUTH" {
			authMechs = strings.Fields(params)
		}
	}
	return ext, authMechs
}

// Has reports whether the server advertised the named extension.
func (e Extensions) Has(keyword string) bool {
	_, ok := e[strings.ToUpper(keyword)]
	return ok
}
