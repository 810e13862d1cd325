package loader

import (
	"fmt"
	"regexp"
	"strings"
)

const exportsBinding = "__staging_exports__"

var (
	staticImportRe  = regexp.MustCompile(`(?m)(^|[;}])\s*import(\s+[\w{*$'"]|\s*[{*'"])`)
	dynamicImportRe = regexp.MustCompile(`\bimport\s*\(`)
	reexportRe      = regexp.MustCompile(`(?m)(^|[;}])\s*export\s*(\*|\{[^}]*\}\s*from\b)`)

	exportListRe        = regexp.MustCompile(`(?m)(^|[;}])(\s*)export\s*\{([^}]*)\}\s*;?`)
	exportDefaultDeclRe = regexp.MustCompile(`(?m)(^|[;}])(\s*)export\s+default\s+((?:async\s+)?function\s*\*?|class)\s+([A-Za-z_$][\w$]*)`)
	exportDefaultRe     = regexp.MustCompile(`(?m)(^|[;}])(\s*)export\s+default\s+`)
	exportDeclRe        = regexp.MustCompile(`(?m)(^|[;}])(\s*)export\s+((?:async\s+)?function\s*\*?|class|const|let|var)\s+([A-Za-z_$][\w$]*)`)
)

type binding struct {
	exported string
	local    string
}

// transform rewrites module syntax into a function body that fills and
// returns an exports object. Import statements are rejected.
func transform(code string) (string, error) {
	if staticImportRe.MatchString(code) || dynamicImportRe.MatchString(code) || reexportRe.MatchString(code) {
		return "", ErrImportUnsupported
	}

	var bindings []binding

	body := replaceSubmatches(exportListRe, code, func(groups []string) string {
		for _, entry := range strings.Split(groups[3], ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			local, exported := entry, entry
			if parts := strings.Fields(entry); len(parts) == 3 && parts[1] == "as" {
				local, exported = parts[0], parts[2]
			}
			bindings = append(bindings, binding{exported: exported, local: local})
		}
		return groups[1] + groups[2]
	})

	body = replaceSubmatches(exportDefaultDeclRe, body, func(groups []string) string {
		bindings = append(bindings, binding{exported: "default", local: groups[4]})
		return groups[1] + groups[2] + groups[3] + " " + groups[4]
	})

	body = replaceSubmatches(exportDefaultRe, body, func(groups []string) string {
		return fmt.Sprintf("%s%s%s[%q] = ", groups[1], groups[2], exportsBinding, "default")
	})

	body = replaceSubmatches(exportDeclRe, body, func(groups []string) string {
		bindings = append(bindings, binding{exported: groups[4], local: groups[4]})
		return groups[1] + groups[2] + groups[3] + " " + groups[4]
	})

	var b strings.Builder
	b.WriteString("(function() {\nvar ")
	b.WriteString(exportsBinding)
	b.WriteString(" = {};\n")
	b.WriteString(body)
	b.WriteString("\n;\n")
	for _, bind := range bindings {
		fmt.Fprintf(&b, "%s[%q] = %s;\n", exportsBinding, bind.exported, bind.local)
	}
	b.WriteString("return ")
	b.WriteString(exportsBinding)
	b.WriteString(";\n})()")
	return b.String(), nil
}

func replaceSubmatches(re *regexp.Regexp, src string, fn func(groups []string) string) string {
	matches := re.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(src[last:m[0]])
		groups := make([]string, len(m)/2)
		for i := range groups {
			if m[2*i] >= 0 {
				groups[i] = src[m[2*i]:m[2*i+1]]
			}
		}
		b.WriteString(fn(groups))
		last = m[1]
	}
	b.WriteString(src[last:])
	return b.String()
}
