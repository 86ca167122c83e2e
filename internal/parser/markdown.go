// Package parser loads execution plans from markdown files. A plan is a
// sequence of "## Task N: Title" sections with inline metadata annotations,
// optionally preceded by YAML frontmatter with run-wide settings.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/overseer/internal/models"
)

// Plan is a parsed execution plan.
type Plan struct {
	DefaultRole   string
	MaxConcurrent int
	TokenBudget   int
	Tasks         []models.Task
}

// overseerConfig is the optional frontmatter block.
type overseerConfig struct {
	Overseer struct {
		DefaultRole   string `yaml:"default_role"`
		MaxConcurrent int    `yaml:"max_concurrent"`
		TokenBudget   int    `yaml:"token_budget"`
	} `yaml:"overseer"`
}

// MarkdownParser parses plan files.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

// NewMarkdownParser creates a parser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{markdown: goldmark.New()}
}

var (
	taskHeadingRegex = regexp.MustCompile(`^Task\s+(\d+):\s+(.+)$`)
	priorityRegex    = regexp.MustCompile(`\*\*Priority\*\*:\s*(\S+)`)
	roleRegex        = regexp.MustCompile(`\*\*Role\*\*:\s*(\S+)`)
	dependsRegex     = regexp.MustCompile(`\*\*Depends on\*\*:\s*(.+)`)
	timeoutRegex     = regexp.MustCompile(`\*\*Timeout\*\*:\s*(\S+)`)
)

// Parse reads a plan from r. Task sections are delimited by level-2
// headings of the form "## Task N: Title"; the body up to the next level-2
// heading becomes the task description, with **Priority**, **Role**,
// **Depends on**, and **Timeout** annotations lifted into task fields.
func (p *MarkdownParser) Parse(r io.Reader) (*Plan, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	plan := &Plan{}
	content, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		var cfg overseerConfig
		if err := yaml.Unmarshal(frontmatter, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		plan.DefaultRole = cfg.Overseer.DefaultRole
		plan.MaxConcurrent = cfg.Overseer.MaxConcurrent
		plan.TokenBudget = cfg.Overseer.TokenBudget
	}

	sections, err := p.taskSections(content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract tasks: %w", err)
	}

	now := time.Now()
	for _, sec := range sections {
		task := models.Task{
			ID:          "task-" + sec.number,
			Title:       sec.title,
			Status:      models.StatusPending,
			Priority:    models.PriorityMedium,
			Description: strings.TrimSpace(sec.body),
			Role:        plan.DefaultRole,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		parseTaskMetadata(&task, sec.body)
		plan.Tasks = append(plan.Tasks, task)
	}
	return plan, nil
}

type taskSection struct {
	number string
	title  string
	body   string
}

// taskSections walks the AST for level-2 task headings and slices the
// source between consecutive headings to form each task's body.
func (p *MarkdownParser) taskSections(source []byte) ([]taskSection, error) {
	doc := p.markdown.Parser().Parse(text.NewReader(source))

	type headingAt struct {
		number string
		title  string
		start  int // byte offset of the heading's text
		end    int // byte offset where the heading's line ends
		isTask bool
	}
	var headings []headingAt

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 2 {
			return ast.WalkContinue, nil
		}

		lines := heading.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		first := lines.At(0)
		last := lines.At(lines.Len() - 1)

		h := headingAt{start: first.Start, end: last.Stop}
		if m := taskHeadingRegex.FindStringSubmatch(headingText(heading, source)); len(m) == 3 {
			h.isTask = true
			h.number = m[1]
			h.title = strings.TrimSpace(m[2])
		}
		headings = append(headings, h)
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	var sections []taskSection
	for i, h := range headings {
		if !h.isTask {
			continue
		}
		bodyEnd := len(source)
		if i+1 < len(headings) {
			// Back up past the "## " marker to the start of the next
			// heading's line.
			next := headings[i+1].start
			for next > 0 && source[next-1] != '\n' {
				next--
			}
			bodyEnd = next
		}
		sections = append(sections, taskSection{
			number: h.number,
			title:  h.title,
			body:   string(source[h.end:bodyEnd]),
		})
	}
	return sections, nil
}

// headingText flattens a heading's inline children to plain text.
func headingText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.String()
}

// parseTaskMetadata lifts inline annotations out of a task body. Code
// blocks are stripped first so examples cannot masquerade as metadata.
func parseTaskMetadata(task *models.Task, body string) {
	clean := removeCodeBlocks(body)

	if m := priorityRegex.FindStringSubmatch(clean); len(m) > 1 {
		p := models.Priority(strings.ToLower(strings.TrimSpace(m[1])))
		if p.Rank() >= 0 {
			task.Priority = p
		}
	}
	if m := roleRegex.FindStringSubmatch(clean); len(m) > 1 {
		task.Role = strings.TrimSpace(m[1])
	}
	if m := timeoutRegex.FindStringSubmatch(clean); len(m) > 1 {
		if d, err := time.ParseDuration(strings.TrimSpace(m[1])); err == nil {
			if task.Input == nil {
				task.Input = make(map[string]any)
			}
			task.Input["timeout"] = d.String()
		}
	}
	if m := dependsRegex.FindStringSubmatch(clean); len(m) > 1 {
		deps := strings.TrimSpace(m[1])
		if !strings.EqualFold(deps, "none") {
			for _, part := range strings.Split(deps, ",") {
				part = strings.TrimSpace(part)
				part = strings.TrimPrefix(part, "Task ")
				if part == "" {
					continue
				}
				task.DependsOn = append(task.DependsOn, "task-"+part)
			}
		}
	}
}

// removeCodeBlocks drops fenced code block contents.
func removeCodeBlocks(body string) string {
	var sb strings.Builder
	inBlock := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inBlock = !inBlock
			continue
		}
		if !inBlock {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// extractFrontmatter splits leading YAML frontmatter (--- delimited) from
// the body. Returns the body and nil when no frontmatter is present.
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))
	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}
	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}
	return content, nil
}
