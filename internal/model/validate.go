package model

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Limits enforced before any remote call.
const (
	MaxTitleRunes       = 256
	MaxDescriptionRunes = 4096
	MaxTags             = 16
	MaxTagRunes         = 32
	MaxMarkdownRunes    = 16384
)

// NormalizeTitle returns the NFC form of title with surrounding space
// trimmed, or a validation error.
func NormalizeTitle(op, title string) (string, error) {
	t := strings.TrimSpace(norm.NFC.String(title))
	if t == "" {
		return "", Validationf(op, "title must not be empty")
	}
	if n := utf8.RuneCountInString(t); n > MaxTitleRunes {
		return "", Validationf(op, "title is %d characters, limit is %d", n, MaxTitleRunes)
	}
	return t, nil
}

// NormalizeDescription returns the NFC form of description. A nil
// description stays nil.
func NormalizeDescription(op string, description *string) (*string, error) {
	if description == nil {
		return nil, nil
	}
	d := norm.NFC.String(*description)
	if n := utf8.RuneCountInString(d); n > MaxDescriptionRunes {
		return nil, Validationf(op, "description is %d characters, limit is %d", n, MaxDescriptionRunes)
	}
	return &d, nil
}

// NormalizeTags trims, NFC-normalizes and de-duplicates tags while keeping
// their first-seen order.
func NormalizeTags(op string, tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		t := strings.TrimSpace(norm.NFC.String(tag))
		if t == "" {
			return nil, Validationf(op, "tags must not be empty")
		}
		if utf8.RuneCountInString(t) > MaxTagRunes {
			return nil, Validationf(op, "tag %q exceeds %d characters", t, MaxTagRunes)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > MaxTags {
		return nil, Validationf(op, "%d tags, limit is %d", len(out), MaxTags)
	}
	return out, nil
}

// Validate checks that exactly one variant is populated and that it is
// consistent with Kind.
func (c ItemContent) Validate(op string) error {
	set := 0
	if c.TokenID != "" {
		set++
	}
	if c.Markdown != "" {
		set++
	}
	if c.Shelf != "" {
		set++
	}
	if set != 1 {
		return Validationf(op, "item content must hold exactly one variant, got %d", set)
	}
	switch c.Kind {
	case ContentNFT:
		if c.TokenID == "" {
			return Validationf(op, "nft content needs a token id")
		}
	case ContentMarkdown:
		if c.Markdown == "" {
			return Validationf(op, "markdown content must not be empty")
		}
		if n := utf8.RuneCountInString(c.Markdown); n > MaxMarkdownRunes {
			return Validationf(op, "markdown is %d characters, limit is %d", n, MaxMarkdownRunes)
		}
	case ContentShelf:
		if c.Shelf == "" {
			return Validationf(op, "shelf content needs a shelf id")
		}
	default:
		return Validationf(op, "unknown content kind %q", c.Kind)
	}
	return nil
}
