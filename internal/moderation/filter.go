package moderation

import "strings"

// DefaultDenylist is the term list Planify ships with. Matching is crude on
// purpose: insults, explicit content and off-topic bait that the assistant
// must not engage with.
var DefaultDenylist = []string{
	"tonto", "estúpido", "idiota", "imbécil", "basura", "inútil", "maldito", "estúpida", "grosera", "qué asco",
	"sexo", "pornografía", "erótico", "nalgas", "pechos", "desnudo", "hacer el amor", "masturbación", "coger",
	"follar", "chupar", "pene", "vagina", "prostitución", "puta", "puto", "chismes", "memes", "temas prohibidos",
	"política", "religión", "cuéntame un chiste", "baila", "haz magia",
}

// Filter flags messages containing denylisted terms. The check is
// case-insensitive substring containment, deterministic and side-effect
// free: no stemming, no context awareness, no per-sender tuning.
type Filter struct {
	terms []string
}

// NewFilter builds a filter over the given terms, falling back to
// DefaultDenylist when none are provided.
func NewFilter(terms []string) *Filter {
	if len(terms) == 0 {
		terms = DefaultDenylist
	}
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}
	return &Filter{terms: lowered}
}

func (f *Filter) IsViolation(text string) bool {
	in := strings.ToLower(text)
	for _, term := range f.terms {
		if strings.Contains(in, term) {
			return true
		}
	}
	return false
}
