package tools

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/throwparty/litterbox/internal/domain"
)

// applyUnifiedDiff applies a single-file unified diff to content in memory,
// returning the patched text. It walks the diff's hunks in order, verifying
// each hunk's context and removal lines against the source before splicing
// in the hunk's additions, the same contract `patch`/`git apply` enforce,
// reimplemented here because the dispatcher must not touch the host
// filesystem: the file being patched lives inside the sandbox's container.
func applyUnifiedDiff(content, diff string) (string, error) {
	srcLines := splitKeepTrailing(content)

	hunks, err := parseHunks(diff)
	if err != nil {
		return "", &domain.PatchApplyError{Message: err.Error()}
	}

	var out []string
	cursor := 0 // 0-indexed position in srcLines already consumed

	for _, h := range hunks {
		start := h.oldStart - 1
		if start < cursor || start > len(srcLines) {
			return "", &domain.PatchApplyError{Message: fmt.Sprintf("hunk @@ -%d,%d +%d,%d @@ does not apply", h.oldStart, h.oldCount, h.newStart, h.newCount)}
		}

		out = append(out, srcLines[cursor:start]...)
		cursor = start

		for _, line := range h.lines {
			switch line.kind {
			case ' ', '-':
				if cursor >= len(srcLines) || srcLines[cursor] != line.text {
					return "", &domain.PatchApplyError{Message: fmt.Sprintf("hunk context mismatch at line %d", cursor+1)}
				}
				if line.kind == ' ' {
					out = append(out, srcLines[cursor])
				}
				cursor++
			case '+':
				out = append(out, line.text)
			}
		}
	}

	out = append(out, srcLines[cursor:]...)

	return strings.Join(out, ""), nil
}

// splitKeepTrailing splits s into lines, keeping each line's trailing
// newline attached so the pieces can be rejoined with strings.Join(..., "").
func splitKeepTrailing(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:idx+1])
		s = s[idx+1:]
	}
	return lines
}

type diffLine struct {
	kind byte // ' ', '-', '+'
	text string
}

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	lines              []diffLine
}

// parseHunks extracts the @@ hunks of a unified diff, ignoring the
// `--- a/...` / `+++ b/...` file headers.
func parseHunks(diff string) ([]hunk, error) {
	var hunks []hunk
	var cur *hunk

	for _, raw := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(raw, "--- "), strings.HasPrefix(raw, "+++ "):
			continue
		case strings.HasPrefix(raw, "@@"):
			h, err := parseHunkHeader(raw)
			if err != nil {
				return nil, err
			}
			if cur != nil {
				hunks = append(hunks, *cur)
			}
			cur = &h
		case raw == "":
			continue
		default:
			if cur == nil {
				continue
			}
			kind, text := raw[0], raw[1:]+"\n"
			if kind != ' ' && kind != '+' && kind != '-' {
				continue
			}
			cur.lines = append(cur.lines, diffLine{kind: kind, text: text})
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}

	if len(hunks) == 0 {
		return nil, fmt.Errorf("no hunks found in diff")
	}

	return hunks, nil
}

// parseHunkHeader parses `@@ -l,s +l,s @@` (the trailing section heading is
// ignored).
func parseHunkHeader(line string) (hunk, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "@@" {
		return hunk{}, fmt.Errorf("malformed hunk header: %q", line)
	}

	old, err := parseRange(fields[1], '-')
	if err != nil {
		return hunk{}, err
	}
	new, err := parseRange(fields[2], '+')
	if err != nil {
		return hunk{}, err
	}

	return hunk{oldStart: old[0], oldCount: old[1], newStart: new[0], newCount: new[1]}, nil
}

func parseRange(field string, want byte) ([2]int, error) {
	if len(field) == 0 || field[0] != want {
		return [2]int{}, fmt.Errorf("malformed hunk range: %q", field)
	}
	field = field[1:]

	start, count := field, "1"
	if idx := strings.IndexByte(field, ','); idx >= 0 {
		start, count = field[:idx], field[idx+1:]
	}

	s, err := strconv.Atoi(start)
	if err != nil {
		return [2]int{}, fmt.Errorf("malformed hunk range: %q", field)
	}
	c, err := strconv.Atoi(count)
	if err != nil {
		return [2]int{}, fmt.Errorf("malformed hunk range: %q", field)
	}

	return [2]int{s, c}, nil
}
