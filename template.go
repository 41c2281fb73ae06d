package mentor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Template is one version of a named prompt template. Templates are owned by
// an external store; the core reads only the text of the production (or an
// explicitly selected) version.
type Template struct {
	Name          string `json:"name"`
	Purpose       string `json:"purpose"`
	VersionNumber int    `json:"version_number"`
	Text          string `json:"text"`
	Active        bool   `json:"is_active"`
	Production    bool   `json:"is_production"`
}

// TemplateSource fetches all versions of a named template from the external
// store.
type TemplateSource interface {
	Fetch(ctx context.Context, name string) ([]Template, error)
}

// StaticTemplates is an in-process TemplateSource backed by a fixed set of
// versions. Used for tests and as the built-in default prompts.
type StaticTemplates map[string][]Template

// Fetch returns the stored versions for name.
func (s StaticTemplates) Fetch(_ context.Context, name string) ([]Template, error) {
	versions, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return versions, nil
}

// TemplateCache is a read-through cache over a TemplateSource. Entries older
// than the TTL are refetched on next use; a fetch failure serves the stale
// entry when one exists.
type TemplateCache struct {
	source TemplateSource
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]cachedVersions
}

type cachedVersions struct {
	versions  []Template
	fetchedAt time.Time
}

// NewTemplateCache creates a cache over source with the given TTL.
func NewTemplateCache(source TemplateSource, ttl time.Duration) *TemplateCache {
	return &TemplateCache{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]cachedVersions),
	}
}

// Production returns the production version of a named template. When
// several versions carry the production flag, the highest version number
// wins.
func (tc *TemplateCache) Production(ctx context.Context, name string) (Template, error) {
	versions, err := tc.versions(ctx, name)
	if err != nil {
		return Template{}, err
	}

	var best *Template
	for i := range versions {
		v := &versions[i]
		if !v.Production {
			continue
		}
		if best == nil || v.VersionNumber > best.VersionNumber {
			best = v
		}
	}
	if best == nil {
		return Template{}, fmt.Errorf("%w: no production version of %q", ErrTemplateNotFound, name)
	}
	return *best, nil
}

// Version returns an explicitly selected version of a named template.
func (tc *TemplateCache) Version(ctx context.Context, name string, version int) (Template, error) {
	versions, err := tc.versions(ctx, name)
	if err != nil {
		return Template{}, err
	}
	for _, v := range versions {
		if v.VersionNumber == version {
			return v, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %q version %d", ErrTemplateNotFound, name, version)
}

func (tc *TemplateCache) versions(ctx context.Context, name string) ([]Template, error) {
	tc.mu.RLock()
	entry, ok := tc.entries[name]
	tc.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) <= tc.ttl {
		return entry.versions, nil
	}

	versions, err := tc.source.Fetch(ctx, name)
	if err != nil {
		if ok {
			// Serve stale rather than fail the invocation.
			return entry.versions, nil
		}
		return nil, err
	}

	tc.mu.Lock()
	tc.entries[name] = cachedVersions{versions: versions, fetchedAt: time.Now()}
	tc.mu.Unlock()
	return versions, nil
}

// DefaultTemplates returns the built-in production prompts for every call
// type the orchestrator makes. Deployments normally override these from the
// external template store; the built-ins keep the engine runnable without
// one.
func DefaultTemplates() StaticTemplates {
	prod := func(name, purpose, text string) []Template {
		return []Template{{
			Name:          name,
			Purpose:       purpose,
			VersionNumber: 1,
			Text:          text,
			Active:        true,
			Production:    true,
		}}
	}

	return StaticTemplates{
		string(CallSimplified): prod(string(CallSimplified), "single-call coaching reply",
			"You are a patient personal coach. Use everything below to answer the "+
				"learner's latest message, including short follow-ups that only make "+
				"sense in context.\n\n{{CONVERSATION_MEMORY}}\n\n{{USER_PERSONA}}"),
		string(CallKnowledge): prod(string(CallKnowledge), "background knowledge retrieval",
			"Identify the background knowledge a coach would draw on to address the "+
				"learner's need described below.\n\n{{CONVERSATION_MEMORY}}"),
		string(CallResponse): prod(string(CallResponse), "coaching response generation",
			"Write the coaching reply for the learner described below. Be concrete "+
				"and encouraging.\n\n{{CONVERSATION_MEMORY}}\n\n{{USER_PERSONA}}"),
		string(CallEnhancement): prod(string(CallEnhancement), "learning enhancement pass",
			"Improve the draft reply below so it deepens learning: add one prompt "+
				"for reflection where it fits naturally.\n\n{{USER_PERSONA}}"),
	}
}
