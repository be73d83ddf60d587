package translate

import (
	"fmt"
	"strings"
)

// TextPlaceholder is replaced with the page text in custom templates.
const TextPlaceholder = "{TEXT}"

const translationRules = `Rules:
1. Translate every line. Do not skip, summarise, or merge lines.
2. Preserve the original structure: paragraphs, blank lines, headings, lists, and verse numbers.
3. The marker %[1]s stands for content that was not transcribed. Copy every %[1]s exactly as it appears, in the same position. Do not translate, explain, or remove it.
4. Output only the English translation with no preamble or notes.`

// BuildPrompt returns the translation prompt for text.
func BuildPrompt(text, sourceLanguage, customTemplate string) string {
	if strings.TrimSpace(customTemplate) != "" {
		if strings.Contains(customTemplate, TextPlaceholder) {
			return strings.ReplaceAll(customTemplate, TextPlaceholder, text)
		}
		return customTemplate + "\n\n" + text
	}

	name := LanguageName(sourceLanguage)
	var intro string
	switch strings.ToLower(name) {
	case "sanskrit":
		intro = "You are a scholar of classical Sanskrit. Translate the following Sanskrit text into clear, faithful English, keeping verse boundaries intact."
	case "hindi":
		intro = "You are a professional Hindi to English translator. Translate the following Hindi text into natural, accurate English."
	default:
		intro = fmt.Sprintf("You are a professional translator. Translate the following %s text into accurate English.", name)
	}
	return intro + "\n\n" + fmt.Sprintf(translationRules, Marker) + "\n\nText:\n" + text
}

// fallbackPrompt is the minimal retry used after a refusal.
func fallbackPrompt(text string) string {
	return fmt.Sprintf("Convert the following text to English. Keep every %s marker unchanged. Output only the English text.\n\n%s", Marker, text)
}
