package cpematch

import (
	"regexp"
	"strings"
	"unicode"
)

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// Sanitize lowercases, drops trademark glyphs and collapses runs of
// non-alphanumerics to single spaces. Both certificate vendor/product
// strings and CPE dictionary fields go through the same form, so
// "Hewlett-Packard" and "hewlett_packard" meet in the middle.
func Sanitize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("®", "", "™", "", "©", "").Replace(s)
	s = nonAlnumRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// vendorAliases maps sanitized corpus vendor names to the form the CPE
// dictionary uses. Small and hand-maintained on purpose.
var vendorAliases = map[string]string{
	"hewlett packard":                 "hp",
	"hewlett packard enterprise":      "hpe",
	"stmicroelectronics":              "st",
	"nxp semiconductors":              "nxp",
	"infineon technologies":           "infineon",
	"infineon technologies ag":        "infineon",
	"samsung electronics":             "samsung",
	"gemalto nv":                      "gemalto",
	"idemia france":                   "idemia",
	"international business machines": "ibm",
}

var versionRe = regexp.MustCompile(`\bv?(\d+(?:\.\d+)+[a-z]?)\b`)

// ExtractVersions pulls version-like tokens out of a product name.
func ExtractVersions(name string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range versionRe.FindAllStringSubmatch(name, -1) {
		v := m[1]
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// versionsCompatible implements the "numeric-prefix matches
// numeric-prefix, and next char is not a digit" rule: 2.1 matches
// 2.1 and 2.1.5 but not 2.15.
func versionsCompatible(a, b string) bool {
	if a == b {
		return true
	}
	if strings.HasPrefix(b, a) && nextNotDigit(b, len(a)) {
		return true
	}
	if strings.HasPrefix(a, b) && nextNotDigit(a, len(b)) {
		return true
	}
	return false
}

func nextNotDigit(s string, i int) bool {
	return i >= len(s) || !unicode.IsDigit(rune(s[i]))
}
