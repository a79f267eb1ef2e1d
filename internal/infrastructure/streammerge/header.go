package streammerge

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CreateDatabaseHeader renders one CREATE DATABASE statement per name so a
// restore recreates the databases before loading their content.
func CreateDatabaseHeader(names []string) []byte {
	if len(names) == 0 {
		return nil
	}
	var b strings.Builder
	for _, name := range names {
		b.WriteString("CREATE DATABASE ")
		b.WriteString(pgx.Identifier{name}.Sanitize())
		b.WriteString(";\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}

var rowCountFooter = regexp.MustCompile(`^\(\d+ rows?\)$`)

// ParseNameTable extracts single-column values from psql's aligned table
// output: the column title and separator lines and the "(N rows)" footer
// are dropped.
func ParseNameTable(output string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && rowCountFooter.MatchString(strings.TrimSpace(lines[len(lines)-1])) {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		return nil
	}

	var names []string
	for _, line := range lines[2:] {
		name := strings.TrimSpace(line)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Exclude returns names without any entry from blacklist, preserving order.
func Exclude(names, blacklist []string) []string {
	skip := make(map[string]struct{}, len(blacklist))
	for _, b := range blacklist {
		skip[b] = struct{}{}
	}
	var kept []string
	for _, n := range names {
		if _, ok := skip[n]; !ok {
			kept = append(kept, n)
		}
	}
	return kept
}
