package outline

import (
	"regexp"
	"strings"
)

// Task is one markdown checklist item extracted from a document body
type Task struct {
	Title string
	Done  bool
}

// taskPattern matches markdown checklist items: "- [ ] buy milk" and
// "- [x] ship release", with leading indentation for nested lists
var taskPattern = regexp.MustCompile(`(?m)^\s*[-*]\s+\[( |x|X)\]\s+(.+)$`)

// ExtractTasks pulls checklist items out of markdown text in document order.
// Duplicate titles are collapsed (first occurrence wins) because blocks are
// reconciled by title and two identical tasks cannot be told apart across
// syncs anyway.
func ExtractTasks(markdown string) []Task {
	matches := taskPattern.FindAllStringSubmatch(markdown, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tasks := make([]Task, 0, len(matches))
	for _, m := range matches {
		title := strings.TrimSpace(m[2])
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		tasks = append(tasks, Task{
			Title: title,
			Done:  m[1] == "x" || m[1] == "X",
		})
	}

	return tasks
}
