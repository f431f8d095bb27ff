package shield

import (
	"encoding/json"
	"regexp"
)

// Category is a family of prompt-injection technique.
type Category int

const (
	CategorySystemOverride Category = iota + 1
	CategoryRoleHijack
	CategoryExfiltration
	CategoryEncodingEvasion
	CategoryDelimiterEscape
)

// Categories lists every category in report order.
var Categories = []Category{
	CategorySystemOverride,
	CategoryRoleHijack,
	CategoryExfiltration,
	CategoryEncodingEvasion,
	CategoryDelimiterEscape,
}

func (c Category) String() string {
	switch c {
	case CategorySystemOverride:
		return "system-override"
	case CategoryRoleHijack:
		return "role-hijack"
	case CategoryExfiltration:
		return "exfiltration"
	case CategoryEncodingEvasion:
		return "encoding-evasion"
	case CategoryDelimiterEscape:
		return "delimiter-escape"
	default:
		return "unspecified"
	}
}

func (c Category) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

// Blocking reports whether a hit in this category blocks rather than warns.
func (c Category) Blocking() bool {
	switch c {
	case CategorySystemOverride, CategoryExfiltration, CategoryEncodingEvasion:
		return true
	default:
		return false
	}
}

type pattern struct {
	re     *regexp.Regexp
	detail string
}

// Compiled once at startup. Every pattern is anchored on word boundaries
// so incidental phrasing ("ignore the error and continue") does not match.
var phrasePatterns = map[Category][]pattern{
	CategorySystemOverride: {
		{regexp.MustCompile(`(?i)\b(ignore|disregard|forget|skip)\s+(all\s+|any\s+|the\s+|your\s+|of\s+)*(previous|prior|above|earlier|preceding|original)\s+(instructions?|rules|guidelines|directions|directives|prompts?|context)\b`), "ignore previous instructions"},
		{regexp.MustCompile(`(?i)\boverride\s+(the\s+|your\s+)?(system|safety|security)\s+(prompt|instructions|rules|polic(y|ies))\b`), "explicit override"},
		{regexp.MustCompile(`(?i)\bbypass\s+(the\s+|your\s+)?(safety|security|content)\s+(filters?|checks?|polic(y|ies)|rules|guardrails)\b`), "explicit bypass"},
		{regexp.MustCompile(`(?i)\bdo\s+not\s+follow\s+(your|the|any)\s+(rules|guidelines|instructions|safety)\b`), "instruction negation"},
		{regexp.MustCompile(`(?i)\b(new|updated|real)\s+instructions\s*:`), "replacement instructions"},
	},
	CategoryRoleHijack: {
		{regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the|my|no\s+longer)\b`), "you are now"},
		{regexp.MustCompile(`(?i)\bfrom\s+now\s+on,?\s+you\s+(are|will|must|should)\b`), "from now on you"},
		{regexp.MustCompile(`(?i)\byour\s+new\s+(role|identity|persona)\s+(is|will\s+be)\b`), "new role"},
		{regexp.MustCompile(`(?i)\bpretend\s+(to\s+be|you\s+are|that\s+you\s+are)\b`), "pretend to be"},
		{regexp.MustCompile(`(?i)\bact\s+as\s+if\s+you\s+(are|were|have)\b`), "act as if"},
		{regexp.MustCompile(`(?i)\b(developer|god|jailbreak|DAN)\s+mode\b`), "privileged mode"},
	},
	CategoryExfiltration: {
		{regexp.MustCompile(`(?i)\b(reveal|print|output|show|repeat|leak|dump)\s+(me\s+)?(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)\b`), "system prompt extraction"},
		{regexp.MustCompile(`(?i)\bwhat\s+(are|is|were)\s+your\s+(system|initial|original|hidden)\s+(prompt|instructions|rules)\b`), "system prompt question"},
		{regexp.MustCompile(`(?i)\b(send|post|upload|exfiltrate|transmit|forward|email)\s+(all\s+|the\s+|your\s+|any\s+|my\s+)*(api[\s_-]?keys?|secrets?|credentials|tokens?|passwords?|env(ironment)?\s+variables|\.env|ssh\s+keys?)\s+to\b`), "send secrets"},
		{regexp.MustCompile(`(?i)\b(curl|wget)\b[^\n]*\$\(\s*(cat|env|printenv)\b`), "shell exfiltration"},
	},
	CategoryEncodingEvasion: {
		{regexp.MustCompile(`(?i)\b(respond|reply|answer)\s+(only\s+)?in\s+(base64|hex|rot13|binary)\b`), "respond in encoded form"},
		{regexp.MustCompile(`(?i)\bencode\s+(your\s+)?(response|answer|output)\s+(in|as)\s+(base64|hex|rot13)\b`), "encode response"},
		{regexp.MustCompile(`[\x{200B}-\x{200F}\x{202A}-\x{202E}\x{2060}-\x{2064}\x{2066}-\x{2069}\x{FEFF}]`), "invisible control character"},
	},
	CategoryDelimiterEscape: {
		{regexp.MustCompile(`(?i)\[/?(SYSTEM|INST)\]`), "bracketed system tag"},
		{regexp.MustCompile(`<\|(im_start|im_end|endoftext|system)\|>`), "chat template token"},
		{regexp.MustCompile(`(?i)</?(system|system_prompt)>`), "system XML tag"},
		{regexp.MustCompile(`(?im)^\s*#{2,}\s*(system|instructions?|new\s+instructions?)\b`), "markdown system header"},
		{regexp.MustCompile(`(?im)^\s*-{3,}\s*(system|instructions?)\s*(prompt|message)?\s*-*\s*$`), "dashed system section"},
		{regexp.MustCompile(`(?i)\bBEGIN\s*INSTRUCTIONS?\b`), "BEGININSTRUCTION marker"},
	},
}

// base64Candidate finds runs long enough to hide a phrase.
var base64Candidate = regexp.MustCompile(`[A-Za-z0-9+/_-]{16,}={0,2}`)
