package translate

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageName turns a user hint ("hi", "sanskrit", "pt-BR") into an English
// language name for prompts.
func LanguageName(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "the source language"
	}
	if tag, err := language.Parse(hint); err == nil {
		if name := display.English.Languages().Name(tag); name != "" {
			return name
		}
	}
	return cases.Title(language.English).String(strings.ToLower(hint))
}
