// Package e2e provides end-to-end tests over a generated vault.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Note is one generated vault note.
type Note struct {
	RelPath string
	// UUID is set in the frontmatter of every other note; the rest fall back to a content-derived doc_id.
	UUID    string
	Title   string
	Content string
	LinksTo string
}

// Corpus is a generated vault.
type Corpus struct {
	Notes []Note
}

var topics = []struct {
	title   string
	content string
}{
	{"Python Guide", "Python is a high-level programming language. It is used for web development and data science."},
	{"Kubernetes Docs", "Kubernetes is an open-source container orchestration platform that automates deployment and scaling."},
	{"Go Language", "Go is a statically typed language. Concurrency is achieved with goroutines and channels."},
	{"PostgreSQL Manual", "PostgreSQL is an advanced relational database that supports JSON and full-text search."},
	{"Docker Handbook", "Docker builds and ships applications. Container images are portable across environments."},
	{"Machine Learning", "Machine learning is a subset of AI. Its algorithms learn patterns from data."},
	{"REST API Design", "REST is an architectural style for APIs. Endpoints use HTTP methods and status codes."},
	{"Redis Cache", "Redis is an in-memory data store used for sessions and caching."},
	{"Git Workflow", "Git is a distributed version control system that tracks changes in source code."},
	{"Kafka Streams", "Apache Kafka is a distributed event streaming platform that handles high throughput."},
}

// BuildCorpus returns n notes cycling through the topics. Every third note lives in a subfolder.
func BuildCorpus(n int) *Corpus {
	notes := make([]Note, n)
	for i := range notes {
		topic := topics[i%len(topics)]
		title := fmt.Sprintf("%s %02d", topic.title, i)
		rel := slug(title) + ".md"
		if i%3 == 0 {
			rel = fmt.Sprintf("topic%02d/%s", i%len(topics), rel)
		}
		note := Note{
			RelPath: rel,
			Title:   title,
			Content: topic.content,
			LinksTo: fmt.Sprintf("%s %02d", topics[(i+1)%len(topics)].title, (i+1)%n),
		}
		if i%2 == 0 {
			note.UUID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(rel)).String()
		}
		notes[i] = note
	}
	return &Corpus{Notes: notes}
}

// Markdown renders the note as it is written to disk.
func (n Note) Markdown() string {
	var b strings.Builder
	if n.UUID != "" {
		fmt.Fprintf(&b, "---\nuuid: %s\ndoc_type: reference\n---\n", n.UUID)
	}
	fmt.Fprintf(&b, "# %s\n\n## Overview\n%s\n\n## Links\nSee [[%s]].\n", n.Title, n.Content, n.LinksTo)
	return b.String()
}

// Write writes every note under root.
func (c *Corpus) Write(root string) error {
	for _, n := range c.Notes {
		if err := WriteNote(root, n); err != nil {
			return err
		}
	}
	return nil
}

// WriteNote writes one note under root, creating its folder.
func WriteNote(root string, n Note) error {
	path := filepath.Join(root, filepath.FromSlash(n.RelPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(n.Markdown()), 0o644)
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}
