// Copyright 2015 Apcera Inc. All rights reserved.

package unit

import (
	"os"
	"os/user"
	"strconv"
	"strings"
)

// SpecifierContext supplies the values substituted for the "%"
// specifiers spec §4.1 and SPEC_FULL.md §5 define. Callers fill in
// whatever is known for the unit being expanded; zero values expand to
// the empty string.
type SpecifierContext struct {
	// Stem is the unit name without its trailing ".<kind>" and, for a
	// template instance, without its "@<instance>" either.
	// ExpandSpecifiers does not read it: %n (full name) and %N (name
	// without the kind suffix) both come from its name argument, and
	// there is no "%p" prefix specifier.
	Stem     string
	Instance string // "%i", raw
}

// hostname and user lookups are resolved once, in init, and cached for
// the lifetime of the process; they rarely change underneath a running
// init.
var (
	cachedHostname string
	cachedUserName string
	cachedHome     string
	cachedUID      string
)

func init() {
	if h, err := os.Hostname(); err == nil {
		cachedHostname = h
		if dot := strings.IndexByte(h, '.'); dot >= 0 {
			cachedHostname = h[:dot]
		}
	}
	if u, err := user.Current(); err == nil {
		cachedUserName = u.Username
		cachedHome = u.HomeDir
		cachedUID = u.Uid
	}
}

// ExpandSpecifiers substitutes "%"-escapes in s per the table in
// SPEC_FULL.md §5:
//
//	%i  instance name           %I  unescaped instance name
//	%n  full unit name          %N  unit name without the type suffix
//	%H  short hostname          %U  calling user's numeric UID
//	%u  calling user's name     %h  calling user's home directory
//	%%  literal percent
func ExpandSpecifiers(s string, name string, ctx SpecifierContext) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'i':
			b.WriteString(ctx.Instance)
		case 'I':
			b.WriteString(unescapeInstance(ctx.Instance))
		case 'n':
			b.WriteString(name)
		case 'N':
			b.WriteString(strings.TrimSuffix(name, "."+nameKind(name)))
		case 'H':
			b.WriteString(cachedHostname)
		case 'U':
			b.WriteString(cachedUID)
		case 'u':
			b.WriteString(cachedUserName)
		case 'h':
			b.WriteString(cachedHome)
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func nameKind(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return name[idx+1:]
}

// unescapeInstance reverses the "-" path escaping systemd template
// instances use for embedded "/" (e.g. "getty@tty-1" -> "getty@tty/1"
// is not something sysd performs automatically elsewhere, but %I is
// defined as the unescaped form for instances built from paths).
func unescapeInstance(instance string) string {
	if !strings.Contains(instance, `\x2f`) {
		return strings.ReplaceAll(instance, "-", "/")
	}
	return strings.ReplaceAll(instance, `\x2f`, "/")
}

// UID returns the cached numeric UID as an int, or -1 if unknown.
func UID() int {
	n, err := strconv.Atoi(cachedUID)
	if err != nil {
		return -1
	}
	return n
}
