package render

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline builds documents and keeps the last one that built successfully.
// It is owned by a single goroutine.
type Pipeline struct {
	current *Document
	runs    int
	newID   func() string
	now     func() time.Time
}

// NewPipeline creates a pipeline with no published document.
func NewPipeline() *Pipeline {
	return &Pipeline{newID: uuid.NewString, now: time.Now}
}

// Run builds a document from in and publishes it. On failure the previous
// document stays current and a *BuildError is returned.
func (p *Pipeline) Run(in Input) (*Document, error) {
	p.runs++
	doc, err := build(p.newID(), in, p.now())
	if err != nil {
		return nil, err
	}
	p.current = doc
	return doc, nil
}

// Current returns the published document, or nil before the first run.
func (p *Pipeline) Current() *Document {
	return p.current
}

// IsCurrent reports whether generation belongs to the published document.
func (p *Pipeline) IsCurrent(generation string) bool {
	return p.current != nil && p.current.Generation == generation
}

// Runs returns the number of render attempts.
func (p *Pipeline) Runs() int {
	return p.runs
}
