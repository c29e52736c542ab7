package ai

import (
	"fmt"
	"strings"

	"guardian/redact"
)

// Profile глубина анализа страницы
type Profile string

const (
	ProfileQuick Profile = "quick"
	ProfileDeep  Profile = "deep"
)

// ParseProfile разбирает имя профиля
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case ProfileQuick, "":
		return ProfileQuick, nil
	case ProfileDeep:
		return ProfileDeep, nil
	}
	return "", fmt.Errorf("unknown profile %q (expected quick or deep)", s)
}

const pageQuickPrompt = `You are an assistant that finds sensitive information which must be redacted from documents.

Analyze the text below and list EVERY piece of sensitive information that should be removed for privacy protection.

TEXT TO ANALYZE:
%s

Respond ONLY with a valid JSON array. Each element is an object with:
- "text": the exact text to redact, copied character for character from the document
- "category": one of ["PII", "FINANCIAL", "MEDICAL", "LEGAL", "CONTACT"]
- "confidence": a number between 0 and 1
- "reason": a short explanation

Look first for:
- full names of people
- email addresses and phone numbers
- street addresses, cities and countries tied to a person
- names of universities and employers
- dates tied to a person (birth, graduation, employment)
- grades, scores, account and ID numbers
- social media handles and profile links

Do NOT redact software names, generic skills, job titles without a name or generic locations.

Example:
[
  {"text": "James Bond", "category": "PII", "confidence": 0.95, "reason": "Person's full name"},
  {"text": "james.bond@example.com", "category": "CONTACT", "confidence": 0.98, "reason": "Email address"}
]

JSON Response:`

const pageDeepPrompt = `You are a privacy analyst familiar with GDPR, HIPAA, FERPA and financial privacy rules.

Perform a thorough review of the text below and identify ALL information that requires redaction.

TEXT TO ANALYZE:
%s

Respond ONLY with a valid JSON array. Each element is an object with:
- "text": the exact text to redact, copied character for character from the document
- "category": one of ["PII", "FINANCIAL", "MEDICAL", "LEGAL", "CONTACT"]
- "confidence": a number between 0 and 1
- "reason": an explanation that names the relevant regulation when one applies

Cover:
- direct identifiers (names, ID numbers, addresses)
- quasi-identifiers (age, location and occupation combinations)
- financial data (account numbers, transactions)
- health information (conditions, treatments, providers)
- legal information (case details, privileged communication)
- contextual details (relationships, private circumstances)
- combinations of facts that together identify a person

JSON Response:`

// BuildPagePrompt строит запрос к модели для текста страницы
func BuildPagePrompt(text string, profile Profile) string {
	if profile == ProfileDeep {
		return fmt.Sprintf(pageDeepPrompt, text)
	}
	return fmt.Sprintf(pageQuickPrompt, text)
}

const transcriptPrompt = `You are a JSON-only API. Respond with ONLY valid JSON and no other text.

Find every instance of personally identifiable information (PII) in the transcript below.

Requirements:
- the response is a JSON array that starts with [ and ends with ]
- no markdown code fences, no headers, no commentary
- if nothing is found, respond with []

Each element is an object with exactly these fields:
- "text": the exact words of the PII
- "category": one of "Name", "Age", "Location", "Address", "Phone", "Email", "Date", "ID", "Other"
- "start_time": the timestamp of the first word, copied from the transcript
- "end_time": the timestamp of the last word, copied from the transcript, plus 1 second
- "explanation": why this is PII
- "confidence": a number between 0.0 and 1.0

Transcript:
%s

Respond with the raw JSON array only.`

// TranscriptSystemPrompt системное сообщение для анализа транскрипции
const TranscriptSystemPrompt = "You are a helpful assistant."

// BuildTranscriptPrompt строит запрос к модели для транскрипции
func BuildTranscriptPrompt(formatted string) string {
	return fmt.Sprintf(transcriptPrompt, formatted)
}

// FormatTranscript форматирует слова построчно: "[ HH:MM:SS.mmm ] word"
func FormatTranscript(words []redact.TimedWord) string {
	var sb strings.Builder
	for i, w := range words {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("[ ")
		sb.WriteString(redact.FormatTimestamp(w.Start))
		sb.WriteString(" ] ")
		sb.WriteString(strings.TrimSpace(w.Text))
	}
	return sb.String()
}
