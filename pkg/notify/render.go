// Package notify turns changes into chat messages and delivers them to sinks.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/learnwatch/learnwatch/pkg/diff"
	"github.com/learnwatch/learnwatch/pkg/whttp"
)

// DeadlineLayout is how deadlines are printed in messages.
const DeadlineLayout = "2006-01-02 15:04:05"

const separator = "===================="

var markdownEscaper = strings.NewReplacer(
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	`[`, `\[`,
)

var markdownUnescaper = strings.NewReplacer(
	`\*`, `*`,
	`\_`, `_`,
	"\\`", "`",
	`\[`, `[`,
)

// EscapeMarkdown escapes the characters Telegram's legacy Markdown mode treats
// as markup.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// UnescapeMarkdown reverses EscapeMarkdown.
func UnescapeMarkdown(s string) string {
	return markdownUnescaper.Replace(s)
}

// Renderer formats changes. The zero value prints Markdown with deadlines in
// time.Local. Plain renders the same messages without markup, for email.
type Renderer struct {
	Location *time.Location
	Plain    bool
}

// Render returns the message text for c.
func (r Renderer) Render(c diff.Change) string {
	course := "「" + r.esc(c.CourseName) + "」"

	switch c.Kind {
	case diff.NewCourse:
		return fmt.Sprintf("New course %s (%s)", course, r.esc(c.Semester))
	case diff.CourseRemoved:
		return fmt.Sprintf("Course %s is no longer listed", course)
	case diff.FileAdded:
		f := c.File
		return fmt.Sprintf("%s published a new file: %s", course, r.link(f.Title, f.DownloadURL))
	case diff.AnnouncementAdded:
		a := c.Announcement
		msg := fmt.Sprintf("%s posted a new announcement: %s\n%s", course, r.link(a.Title, a.URL), separator)
		if body := whttp.CollapseBlankLines(a.Content); body != "" {
			msg += "\n" + r.esc(body)
		}
		return msg
	}

	a := c.Assignment
	if a == nil {
		return fmt.Sprintf("%s: %s", c.Kind, course)
	}
	hw := r.link(a.Title, a.URL)
	due := "Deadline: " + r.deadline(a.Deadline)

	switch c.Kind {
	case diff.AssignmentAdded:
		return fmt.Sprintf("%s assigned new homework: %s\n%s", course, hw, due)
	case diff.DeadlineChanged:
		msg := fmt.Sprintf("Deadline changed: %s%s\n%s", course, hw, due)
		if !c.PreviousDeadline.IsZero() {
			msg += "\nWas: " + r.deadline(c.PreviousDeadline)
		}
		return msg
	case diff.DeadlineApproaching:
		return fmt.Sprintf("Homework due in %s!\n%s%s\n%s", r.bold(string(c.Reminder)), course, hw, due)
	case diff.DeadlineOverdue:
		return fmt.Sprintf("Homework deadline passed!\n%s%s\n%s", course, hw, due)
	case diff.Submitted:
		return fmt.Sprintf("Homework submitted: %s%s", course, hw)
	case diff.Graded:
		var b strings.Builder
		fmt.Fprintf(&b, "New grade: %s%s\n", course, hw)
		if a.GradeLevel != "" {
			fmt.Fprintf(&b, "Grade level: %s\n", r.esc(a.GradeLevel))
		} else if a.Grade != "" {
			fmt.Fprintf(&b, "Grade: %s\n", r.esc(a.Grade))
		}
		if content := whttp.CollapseBlankLines(a.GradeContent); content != "" {
			b.WriteString(separator + "\n" + r.esc(content))
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return fmt.Sprintf("%s: %s%s", c.Kind, course, hw)
}

func (r Renderer) deadline(t time.Time) string {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DeadlineLayout)
}

func (r Renderer) esc(s string) string {
	if r.Plain {
		return s
	}
	return EscapeMarkdown(s)
}

func (r Renderer) bold(s string) string {
	if r.Plain {
		return s
	}
	return "*" + s + "*"
}

func (r Renderer) link(title, url string) string {
	switch {
	case url == "":
		return r.esc(title)
	case r.Plain:
		return title + " <" + url + ">"
	}
	return "[" + EscapeMarkdown(title) + "](" + url + ")"
}
