// Package moderation decides when the automated mediator speaks in group and
// private chats, and when a facilitator must be alerted.
package moderation

import (
	"fmt"
	"sort"
	"strings"
)

// Vocabulary is the keyword data of one deployment language.
type Vocabulary struct {
	// Support words suggest the writer could use some help.
	Support []string
	// Alert words indicate acute risk and escalate to a facilitator.
	Alert []string
}

// Vocabularies ships the built-in languages, keyed by language code.
var Vocabularies = map[string]Vocabulary{
	"pt": {
		Support: []string{
			"ajuda", "ansioso", "ansiosa", "nervoso", "nervosa", "triste",
			"confuso", "confusa", "difícil", "não consigo", "problema",
			"assustado", "assustada", "medo", "sozinho", "sozinha",
		},
		Alert: []string{
			"suicídio", "suicida", "matar", "morrer", "machucar",
			"desespero", "desesperado", "desesperada", "emergência",
			"crise", "pânico", "violência", "abuso", "socorro",
		},
	},
	"en": {
		Support: []string{
			"help", "anxious", "nervous", "sad", "confused", "difficult",
			"can't", "cannot", "problem", "scared", "afraid", "alone", "lonely",
		},
		Alert: []string{
			"suicide", "suicidal", "kill", "die", "hurt myself",
			"despair", "desperate", "emergency", "crisis", "panic",
			"violence", "abuse",
		},
	},
}

// DefaultLanguages are used when no language is configured.
var DefaultLanguages = []string{"pt", "en"}

// ContainsAny reports whether text contains any of the keywords, ignoring case.
// Keywords are expected in lower case.
func ContainsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// NeedsSupport is the support-need heuristic: any support keyword, or a question
// or exclamation mark anywhere in the text.
func NeedsSupport(text string, keywords []string) bool {
	return ContainsAny(text, keywords) || strings.ContainsAny(text, "?!")
}

// Policy holds the merged vocabularies of the configured languages.
type Policy struct {
	support []string
	alert   []string
}

// NewPolicy merges the vocabularies of languages with extra keywords.
func NewPolicy(languages []string, extraSupport, extraAlert []string) (*Policy, error) {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	var support, alert []string
	for _, lang := range languages {
		v, ok := Vocabularies[strings.ToLower(strings.TrimSpace(lang))]
		if !ok {
			return nil, fmt.Errorf("unknown moderation language %q", lang)
		}
		support = append(support, v.Support...)
		alert = append(alert, v.Alert...)
	}
	return &Policy{
		support: normalize(append(support, extraSupport...)),
		alert:   normalize(append(alert, extraAlert...)),
	}, nil
}

// DefaultPolicy uses the built-in languages with no extra keywords.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultLanguages, nil, nil)
	if err != nil {
		panic(err)
	}
	return p
}

// NeedsSupport applies the support heuristic with the policy's vocabulary.
func (p *Policy) NeedsSupport(text string) bool { return NeedsSupport(text, p.support) }

// Alert reports whether text must be escalated to a facilitator.
func (p *Policy) Alert(text string) bool { return ContainsAny(text, p.alert) }

// AlertKeywords returns the merged alert vocabulary.
func (p *Policy) AlertKeywords() []string { return append([]string(nil), p.alert...) }

func normalize(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
