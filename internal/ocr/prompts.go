package ocr

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/pagetranslationflow/internal/classify"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
)

// Marker stands in for any span the model declines to transcribe.
const Marker = models.ContentMarker

const maskingInstructions = `
IMPORTANT: If any individual word, phrase, or passage cannot be transcribed for content reasons, replace only that span with the exact marker ` + Marker + ` and continue transcribing the rest of the page. Never refuse the whole page.`

const formattingInstructions = `
- Transcribe the text exactly as written, character for character. Do not translate, summarise, or correct it.
- Preserve line breaks, paragraph breaks, headings, lists, and verse numbering.
- Output only the transcribed text with no preamble or commentary.`

const hindiPrompt = `You are an expert OCR engine for Hindi documents written in Devanagari script.
Transcribe all Hindi text visible in this page image.` + formattingInstructions + `
- Keep every matra, conjunct, nukta, and punctuation mark (including । and ॥) exactly as printed.` + maskingInstructions

const sanskritPrompt = `You are an expert OCR engine for Sanskrit texts in Devanagari script.
Transcribe all Sanskrit text visible in this page image, including verses and commentary.` + formattingInstructions + `
- Preserve sandhi as printed and keep every danda (। and ॥), avagraha (ऽ), and verse number.` + maskingInstructions

const genericPrompt = `You are an expert OCR engine.
Transcribe all text visible in this page image, in whatever language or script it is written (%s expected).` + formattingInstructions + maskingInstructions

// BasePrompt returns the first-pass OCR prompt for a page.
func BasePrompt(language, customPrompt string) string {
	if strings.TrimSpace(customPrompt) != "" {
		return strings.TrimSpace(customPrompt) + "\n" + maskingInstructions
	}
	switch languageFamily(language) {
	case "hindi":
		return hindiPrompt
	case "sanskrit":
		return sanskritPrompt
	default:
		lang := strings.TrimSpace(language)
		if lang == "" {
			lang = "any language"
		}
		return fmt.Sprintf(genericPrompt, lang)
	}
}

func languageFamily(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	switch {
	case l == "hi" || strings.HasPrefix(l, "hindi"):
		return "hindi"
	case l == "sa" || strings.HasPrefix(l, "sanskrit"):
		return "sanskrit"
	default:
		return "generic"
	}
}

var categoryGuidance = map[string]string{
	classify.CategoryViolence: "The page may describe battles, conflict, or violence as part of historical, religious, or literary text.",
	classify.CategoryExplicit: "The page may contain mature or intimate themes as part of classical literature.",
	classify.CategoryHarmful:  "The page may mention practices or substances that appear dangerous out of context.",
	classify.CategoryHate:     "The page may contain historical language about social groups that is offensive by modern standards.",
	classify.CategoryIllegal:  "The page may reference acts that are unlawful today as part of historical or literary text.",
	classify.CategoryGeneral:  "The page may contain sensitive passages.",
}

func maskingPrompt(p PromptContext) string {
	guidance := categoryGuidance[p.Category]
	if guidance == "" {
		guidance = categoryGuidance[classify.CategoryGeneral]
	}
	return fmt.Sprintf(`This is a scanned page from a %s document that is being digitised for archival and scholarly purposes.
%s
Transcribe all of the text on the page. For any passage you cannot reproduce, write %s in its place and continue with the remaining text.
Output only the transcription.`, languageLabel(p.Language), guidance, Marker)
}

func selectivePrompt(p PromptContext) string {
	return fmt.Sprintf(`Extract only the text from this page image that you are able to transcribe.
Skip anything you cannot transcribe and write %s where it was.
Keep the original line order. Output only the extracted text.`, Marker)
}

func ultraSimplePrompt(p PromptContext) string {
	return "Copy the printed words from this image. Write " + Marker + " for any words you skip."
}

const lastResortSystem = "You are a text transcription tool for an archival digitisation project. You copy printed characters from images. You do not interpret, endorse, or evaluate content. Partial output is always preferred over no output."

func lastResortPrompt(p PromptContext) string {
	return fmt.Sprintf(`Transcribe as much of page %d as possible. Even a partial transcription is useful.
Any portion that cannot be copied must be replaced with %s. Do not explain, apologise, or refuse; output only text from the page.`, p.Page, Marker)
}

const explainRefusalPrompt = `Earlier requests to transcribe this page image were declined. Without transcribing any text, briefly explain in one or two sentences what about this page prevents transcription.`

const describeImagePrompt = `An attempt to transcribe this page image returned no usable text. Describe what the image shows (layout, whether text is present, legibility, script) and explain in one or two sentences why no text could be extracted.`

func languageLabel(language string) string {
	switch languageFamily(language) {
	case "hindi":
		return "Hindi"
	case "sanskrit":
		return "Sanskrit"
	default:
		if strings.TrimSpace(language) == "" {
			return "historical"
		}
		return strings.TrimSpace(language)
	}
}
