package resolver

import (
	"strings"

	"github.com/oshokin/app-updater/internal/domain/release"
)

// Category groups commits in release notes.
type Category int

// Commit categories, from the most to the least significant.
const (
	CategoryBreaking Category = iota
	CategoryFeature
	CategoryFix
	CategoryOther
)

var categoryTitles = [...]string{
	CategoryBreaking: "Breaking",
	CategoryFeature:  "Features",
	CategoryFix:      "Fixes",
	CategoryOther:    "Other",
}

// String returns the release notes heading of the category.
func (c Category) String() string {
	if c < CategoryBreaking || c > CategoryOther {
		return "Unknown"
	}

	return categoryTitles[c]
}

// Commit is one entry of the git log.
type Commit struct {
	Subject string
	Body    string
}

// Classify assigns a commit to a category using conventional-commit hints
// found in the subject and body.
func Classify(commit Commit) Category {
	subject := strings.ToLower(commit.Subject)
	text := subject + "\n" + strings.ToLower(commit.Body)

	switch {
	case strings.Contains(text, "breaking change") || strings.Contains(text, "!:"):
		return CategoryBreaking
	case strings.HasPrefix(subject, "feat") || strings.Contains(text, "feature"):
		return CategoryFeature
	case strings.HasPrefix(subject, "fix") || strings.Contains(text, "fix") || strings.Contains(text, "bug"):
		return CategoryFix
	default:
		return CategoryOther
	}
}

// DetectBump returns the bump implied by the most significant commit.
// Without any feature or breaking commit the bump is a patch.
func DetectBump(commits []Commit) release.Bump {
	bump := release.BumpPatch

	for _, commit := range commits {
		switch Classify(commit) {
		case CategoryBreaking:
			return release.BumpMajor
		case CategoryFeature:
			bump = release.BumpMinor
		case CategoryFix, CategoryOther:
		}
	}

	return bump
}

// RenderNotes renders markdown release notes grouped by category.
func RenderNotes(commits []Commit) string {
	groups := make([][]string, len(categoryTitles))

	for _, commit := range commits {
		category := Classify(commit)
		groups[category] = append(groups[category], strings.TrimSpace(commit.Subject))
	}

	var builder strings.Builder

	for category, subjects := range groups {
		if len(subjects) == 0 {
			continue
		}

		if builder.Len() > 0 {
			builder.WriteString("\n")
		}

		builder.WriteString("## " + Category(category).String() + "\n")

		for _, subject := range subjects {
			builder.WriteString("- " + subject + "\n")
		}
	}

	return builder.String()
}
