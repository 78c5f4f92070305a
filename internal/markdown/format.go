// Package markdown normalizes model output so bullet lists, numbered
// lists and headers render reliably in chat clients. Fenced code
// blocks pass through byte for byte.
package markdown

import (
	"regexp"
	"strconv"
	"strings"
)

type listType int

const (
	listNone listType = iota
	listBullet
	listOrdered
)

var (
	bulletRe   = regexp.MustCompile(`^[-*•]\s+(.+)$`)
	numberedRe = regexp.MustCompile(`^(\d+)[.)]\s+(.+)$`)
	fenceRe    = regexp.MustCompile("(?s)```[^\n]*\n.*?```")
	headerFix  = regexp.MustCompile(`\n(#{1,6}\s+.+)\n([^\n#\s])`)
	blankRunRe = regexp.MustCompile(`\n{4,}`)
	listGapRe  = regexp.MustCompile(`([^\n])\n([-*]\s|\d+[.)]\s)`)
)

// Normalize rewrites content line by line: bullets become "- ",
// ordered lists keep their numbering, lists and headers get blank-line
// separation, and runs of blank lines outside fenced code collapse to
// a single blank line.
func Normalize(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	var out []string
	inList := false
	inCode := false
	lt := listNone
	counter := 1

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") {
			out = append(out, line)
			inCode = !inCode
			inList = false
			lt = listNone
			counter = 1
			continue
		}
		if inCode {
			out = append(out, line)
			continue
		}

		if m := bulletRe.FindStringSubmatch(stripped); m != nil {
			if !inList || lt != listBullet {
				if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) != "" && !strings.HasPrefix(out[n-1], "- ") {
					out = append(out, "")
				}
				inList = true
				lt = listBullet
				counter = 1
			}
			out = append(out, "- "+m[1])
			continue
		}
		if m := numberedRe.FindStringSubmatch(stripped); m != nil {
			if !inList || lt != listOrdered {
				if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) != "" && !numberedRe.MatchString(strings.TrimSpace(out[n-1])) {
					out = append(out, "")
				}
				inList = true
				lt = listOrdered
				counter, _ = strconv.Atoi(m[1])
			}
			out = append(out, strconv.Itoa(counter)+". "+m[2])
			counter++
			continue
		}

		if inList && stripped != "" {
			// A significantly indented line continues the previous
			// list item; anything else ends the list.
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if indent < 2 {
				inList = false
				lt = listNone
				counter = 1
				if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) != "" {
					out = append(out, "")
				}
			}
		}

		if stripped == "" {
			if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) != "" {
				out = append(out, "")
			}
			continue
		}
		out = append(out, line)
	}

	formatted := strings.Join(out, "\n")
	formatted = applyOutsideFences(formatted, func(segment string) string {
		segment = headerFix.ReplaceAllString(segment, "\n$1\n\n$2")
		segment = blankRunRe.ReplaceAllString(segment, "\n\n\n")
		segment = listGapRe.ReplaceAllString(segment, "$1\n\n$2")
		return segment
	})
	return formatted
}

// applyOutsideFences runs fn on every span outside fenced code blocks,
// leaving the fenced spans untouched.
func applyOutsideFences(content string, fn func(string) string) string {
	var b strings.Builder
	last := 0
	for _, loc := range fenceRe.FindAllStringIndex(content, -1) {
		b.WriteString(fn(content[last:loc[0]]))
		b.WriteString(content[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(fn(content[last:]))
	return b.String()
}
