package mentor

import (
	"fmt"
	"regexp"
	"strings"
)

// Built-in placeholder kinds.
const (
	KindConversationMemory = "CONVERSATION_MEMORY"
	KindUserPersona        = "USER_PERSONA"
)

// NotAvailable is rendered when a requested key has no value.
const NotAvailable = "not available"

// ContextKind describes one placeholder family: its token name, the
// human-readable label used in rendered sentences, the allow-listed keys in
// render order, and the sentence rendered when the whole context object is
// absent.
type ContextKind struct {
	Name     string
	Label    string
	Keys     []string
	Fallback string
}

// ContextValues holds the data for one render pass, keyed by kind name.
// A nil inner map means the context object is absent entirely.
type ContextValues map[string]map[string]string

// Injector replaces {{KIND}} and {{KIND__k1__k2}} tokens in template text
// with validated snippets. Rendering is total: it never fails, and every
// recognized token is replaced with either a snippet or the kind's fallback
// sentence. Unrecognized kinds are left untouched.
type Injector struct {
	kinds map[string]ContextKind
}

var tokenPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// NewInjector creates an injector with the built-in conversation-memory and
// user-persona kinds registered.
func NewInjector() *Injector {
	inj := &Injector{kinds: make(map[string]ContextKind)}
	inj.RegisterKind(ContextKind{
		Name:     KindConversationMemory,
		Label:    "the conversation so far",
		Keys:     []string{"main_topics", "action", "typical_observation"},
		Fallback: "Details about the conversation so far are not available.",
	})
	inj.RegisterKind(ContextKind{
		Name:     KindUserPersona,
		Label:    "the learner",
		Keys:     []string{"persona"},
		Fallback: "Details about the learner are not available.",
	})
	return inj
}

// RegisterKind adds or replaces a placeholder kind. Existing kinds are not
// affected; new kinds only need an allow-list and a fallback sentence.
func (inj *Injector) RegisterKind(k ContextKind) {
	inj.kinds[k.Name] = k
}

// Inject replaces every recognized token in text using values. Tokens of a
// kind whose values are absent render as that kind's fallback sentence.
func (inj *Injector) Inject(text string, values ContextValues) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		inner := token[2 : len(token)-2]

		// Keys are __-delimited; the kind name itself never contains a
		// double underscore.
		parts := strings.Split(inner, "__")
		kind, ok := inj.kinds[parts[0]]
		if !ok {
			return token
		}
		return inj.render(kind, values[kind.Name], parts[1:])
	})
}

// render builds the deterministic snippet for one token. Requested keys not
// in the allow-list are silently dropped; an empty request means all
// allow-listed keys.
func (inj *Injector) render(kind ContextKind, vals map[string]string, requested []string) string {
	if vals == nil {
		return kind.Fallback
	}

	keys := requested
	if len(keys) == 0 {
		keys = kind.Keys
	}

	allowed := make(map[string]bool, len(kind.Keys))
	for _, k := range kind.Keys {
		allowed[k] = true
	}

	var pairs []string
	seen := make(map[string]bool)
	for _, key := range keys {
		if !allowed[key] || seen[key] {
			continue
		}
		seen[key] = true

		value, ok := vals[key]
		if !ok || value == "" {
			pairs = append(pairs, fmt.Sprintf("`%s` is %s", key, NotAvailable))
			continue
		}
		pairs = append(pairs, fmt.Sprintf("`%s` is \"%s\"", key, escapeValue(value)))
	}

	if len(pairs) == 0 {
		return kind.Fallback
	}
	return "These are some details about " + kind.Label + ": " + strings.Join(pairs, ", ") + "."
}

// escapeValue neutralizes quote characters so rendered values cannot break
// out of their delimiters.
func escapeValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}
