// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package gen

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pixmint/pixmint/model"
	"github.com/pixmint/pixmint/pix"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script.*?</script>|<script.*?>`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
)

// SanitizePrompt strips markup and control characters and enforces the
// length bounds on the remainder.
func SanitizePrompt(prompt string) (string, error) {
	prompt = scriptRe.ReplaceAllString(prompt, "")
	prompt = tagRe.ReplaceAllString(prompt, "")
	prompt = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, prompt)
	prompt = strings.TrimSpace(prompt)

	if len(prompt) < pix.PromptMinLen {
		return "", Validation("prompt must be at least %d characters", pix.PromptMinLen)
	}
	if len(prompt) > pix.PromptMaxLen {
		return "", Validation("prompt must be at most %d characters", pix.PromptMaxLen)
	}
	return prompt, nil
}

var refInstructions = map[model.ReferenceKind]string{
	model.RefSubject:   "Preserve the subject of the reference image.",
	model.RefFace:      "Preserve the facial identity from the reference image.",
	model.RefFullImage: "Use the full reference image as the starting composition.",
}

// BuildModelPrompt derives the prompt sent to the model. Reference
// operations get a templated instruction for the reference kind.
func BuildModelPrompt(operation, prompt string, kind model.ReferenceKind) string {
	switch operation {
	case OpImageReference:
		if instr, ok := refInstructions[kind]; ok {
			return instr + " " + prompt
		}
		return prompt
	case OpImageMultipleReference:
		return "Compose the target image with the provided reference images. " + prompt
	default:
		return prompt
	}
}
