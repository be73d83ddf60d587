package classify

// Phrase lists are matched against lower-cased response text.

var refusalPhrases = []string{
	"cannot assist",
	"can't assist",
	"unable to assist",
	"cannot help with",
	"can't help with",
	"i cannot fulfill",
	"i can't fulfill",
	"i cannot provide",
	"i can't provide",
	"i cannot process",
	"i can't process",
	"i am unable to process",
	"i'm unable to process",
	"i won't be able to",
	"against my programming",
	"against my guidelines",
	"content policies",
	"content policy",
	"usage policies",
	"violates guidelines",
	"violates my guidelines",
	"violate the guidelines",
	"not able to comply",
	"i must decline",
	"i have to decline",
	"as a large language model",
	"as an ai language model",
	"inappropriate content",
	"harmful content",
	"i'm not comfortable",
	"i am not comfortable",
}

var ocrFailurePhrases = []string{
	"no text detected",
	"no text found",
	"no readable text",
	"no visible text",
	"does not contain any text",
	"doesn't contain any text",
	"does not contain readable text",
	"image is blank",
	"the page is blank",
	"blank page",
	"unable to read",
	"cannot read the text",
	"can't read the text",
	"unable to transcribe",
	"cannot transcribe",
	"can't transcribe",
	"unable to extract",
	"cannot extract",
	"text is illegible",
	"too blurry",
	"image quality is too low",
}

var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{CategoryViolence, []string{"violence", "violent", "gore", "weapon", "killing", "graphic"}},
	{CategoryExplicit, []string{"explicit", "sexual", "nudity", "adult content", "pornographic"}},
	{CategoryHate, []string{"hate", "hateful", "discriminat", "slur", "racist"}},
	{CategoryIllegal, []string{"illegal", "unlawful", "criminal", "drug"}},
	{CategoryHarmful, []string{"harmful", "dangerous", "self-harm", "unsafe"}},
}
