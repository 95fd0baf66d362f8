package relay

import "strings"

// Default trigger sets.
var (
	DefaultPrefixes = []string{"/", "!", "#"}
	DefaultMentions = []string{"дик", "bot"}
)

// IntentFilter decides whether a text message is addressed to the bot.
type IntentFilter struct {
	prefixes []string
	mentions []string
}

// NewIntentFilter builds a filter. Nil slices fall back to the defaults;
// entries are matched case-insensitively.
func NewIntentFilter(prefixes, mentions []string) *IntentFilter {
	if prefixes == nil {
		prefixes = DefaultPrefixes
	}
	if mentions == nil {
		mentions = DefaultMentions
	}
	f := &IntentFilter{}
	for _, p := range prefixes {
		if p != "" {
			f.prefixes = append(f.prefixes, strings.ToLower(p))
		}
	}
	for _, m := range mentions {
		if m != "" {
			f.mentions = append(f.mentions, strings.ToLower(m))
		}
	}
	return f
}

// ShouldRespond returns true when the text starts with a trigger prefix,
// contains a mention token anywhere, or replies to the bot.
func (f *IntentFilter) ShouldRespond(text string, hasBotReplyContext bool) bool {
	if hasBotReplyContext {
		return true
	}

	lower := strings.ToLower(text)
	for _, p := range f.prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, m := range f.mentions {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var defaultFilter = NewIntentFilter(nil, nil)

// ShouldRespond applies the default intent filter.
func ShouldRespond(text string, hasBotReplyContext bool) bool {
	return defaultFilter.ShouldRespond(text, hasBotReplyContext)
}
