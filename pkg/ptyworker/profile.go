package ptyworker

import (
	"fmt"
	"regexp"

	"github.com/cuemby/warren/pkg/types"
)

// Profile is the capability set for one CLI variant: how to recognize its
// interactive prompts, how to recognize post-verification activity, and
// how to format an injected message for it. Modeled as data (a table) per
// CLIKind rather than per-CLI branches scattered through the worker, so
// adding a CLI means adding a table row, not new control flow.
type Profile struct {
	CLI              types.CLIKind
	PromptPatterns   []*regexp.Regexp // interactive prompts answered locally; the chunk is still fed to VerificationBuffer
	ActivityPatterns []*regexp.Regexp // post-verification progress markers
}

// DetectPrompt returns the first prompt pattern matching visible, or nil.
func (p *Profile) DetectPrompt(visible []byte) *regexp.Regexp {
	for _, re := range p.PromptPatterns {
		if re.Match(visible) {
			return re
		}
	}
	return nil
}

// DetectActivity reports whether visible contains any activity marker.
func (p *Profile) DetectActivity(visible []byte) bool {
	for _, re := range p.ActivityPatterns {
		if re.Match(visible) {
			return true
		}
	}
	return false
}

// FormatInjection renders the deterministic injected text for a delivery.
// This exact string is what VerificationBuffer matches against, so it
// must be identical across every CLI variant: the CLI's interactive
// prompt handling is about what the worker does before this text is
// written, not about varying the text itself.
func FormatInjection(from, eventID, body string) string {
	return fmt.Sprintf("Relay message from %s [%s]: %s\n", from, eventID, body)
}

var genericPromptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)press enter to continue`),
	regexp.MustCompile(`(?i)do you want to proceed\?`),
}

var bypassPermissionsPattern = regexp.MustCompile(`(?i)bypass permissions`)

// profiles is the capability table, one row per known CLI plus a
// conservative fallback for Other.
var profiles = map[types.CLIKind]*Profile{
	types.CLIClaude: {
		CLI: types.CLIClaude,
		PromptPatterns: append([]*regexp.Regexp{
			bypassPermissionsPattern,
			regexp.MustCompile(`(?i)switch model`),
		}, genericPromptPatterns...),
		ActivityPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)thinking…`),
			regexp.MustCompile(`(?i)Tool use:`),
		},
	},
	types.CLICodex: {
		CLI: types.CLICodex,
		PromptPatterns: append([]*regexp.Regexp{
			regexp.MustCompile(`(?i)approve this command\?`),
		}, genericPromptPatterns...),
		ActivityPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)running command`),
			regexp.MustCompile(`(?i)analyzing`),
		},
	},
	types.CLIGemini: {
		CLI:            types.CLIGemini,
		PromptPatterns: genericPromptPatterns,
		ActivityPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)generating`),
		},
	},
	types.CLIAider: {
		CLI:            types.CLIAider,
		PromptPatterns: genericPromptPatterns,
		ActivityPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)applying edit`),
		},
	},
	types.CLIGoose: {
		CLI:            types.CLIGoose,
		PromptPatterns: genericPromptPatterns,
		ActivityPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)executing`),
		},
	},
	types.CLIOther: {
		CLI:              types.CLIOther,
		PromptPatterns:   genericPromptPatterns,
		ActivityPatterns: nil,
	},
}

// ProfileFor returns the capability table row for cli, falling back to
// the conservative Other profile for unrecognized values.
func ProfileFor(cli types.CLIKind) *Profile {
	if p, ok := profiles[cli]; ok {
		return p
	}
	return profiles[types.CLIOther]
}
