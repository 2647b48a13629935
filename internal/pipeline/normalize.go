package pipeline

import "strings"

// NormalizeHeadings makes section content start with a level-2 heading,
// collapses runs of blank lines, and surrounds every heading with exactly one
// blank line. A leading heading of another level is replaced by
// "## title"; leading body text gets the heading prepended. Fenced code blocks
// are left alone.
func NormalizeHeadings(content, title string) string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}

	heading := "## " + strings.TrimSpace(title)
	switch {
	case len(lines) == 0:
		lines = []string{heading}
	case strings.HasPrefix(strings.TrimSpace(lines[0]), "## "):
	case isHeading(lines[0]):
		lines[0] = heading
	default:
		lines = append([]string{heading, ""}, lines...)
	}

	out := make([]string, 0, len(lines)+8)
	inFence := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}

		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}

		if isHeading(line) {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			out = append(out, trimmed, "")
			continue
		}
		out = append(out, line)
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// isHeading matches ATX headings ("#" through "######" followed by a space).
func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	return level >= 1 && level <= 6 && level < len(trimmed) && trimmed[level] == ' '
}
