package conversation

import (
	"regexp"
	"strings"
)

// PromptGuardResult is the outcome of scanning an inbound user message.
type PromptGuardResult struct {
	// Blocked is true if the message must not reach the model.
	Blocked bool
	// Score is a heuristic risk score from 0.0 (safe) to 1.0.
	Score   float64
	Reasons []string
}

type promptGuardPattern struct {
	re     *regexp.Regexp
	reason string
	weight float64
}

// blockThreshold: messages scoring at or above this are blocked outright.
const blockThreshold = 0.7

var promptGuardPatterns = []promptGuardPattern{
	// Attempts to override the script.
	{regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?|directives?|script)`), "direct_injection:ignore_instructions", 0.9},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`), "direct_injection:role_reassignment", 0.7},
	{regexp.MustCompile(`(?i)new\s+role\s*:|new\s+instructions?\s*:|system\s*prompt\s*:|<<\s*sys(tem)?\s*>>`), "direct_injection:new_role", 0.9},
	{regexp.MustCompile(`(?i)override\s+(your\s+)?(system|instructions?|rules?|safety|guidelines?)`), "direct_injection:override", 0.8},
	{regexp.MustCompile(`(?i)(pretend|imagine|suppose|assume)\s+(that\s+)?(you\s+)?(are|have|were|don'?t\s+have)\s+(no\s+)?(rules?|restrictions?|limits?|guidelines?|filters?)`), "direct_injection:pretend_no_rules", 0.9},
	{regexp.MustCompile(`(?i)jailbreak|DAN\s*mode|developer\s*mode|unrestricted\s*mode|god\s*mode`), "direct_injection:jailbreak_keyword", 0.9},
	{regexp.MustCompile(`(?i)(ignora|olvida)\s+(todas\s+)?(las\s+)?(instrucciones|reglas)\s+(anteriores|previas)`), "direct_injection:ignore_instructions_es", 0.9},
	// Attempts to pull the script or other leads out of the model.
	{regexp.MustCompile(`(?i)(reveal|show|display|print|output|repeat|tell\s+me|what\s+(is|are))\s+(your\s+)?(system\s+prompt|instructions?|initial\s+prompt|hidden\s+prompt|system\s+message|script)`), "exfiltration:system_prompt", 0.8},
	{regexp.MustCompile(`(?i)(what|list|show|give|tell)\s+(me\s+)?(all\s+)?(the\s+)?other\s+(clients?|leads?|users?|customers?)('?s)?\s*(data|info|names?|numbers?|phones?|records?|details?)?`), "exfiltration:other_leads", 0.7},
	{regexp.MustCompile(`(?i)\b(api|secret|aws|database|db)\s*(key|token|secret|password|credential)s?\b`), "exfiltration:credentials_keyword", 0.8},
	{regexp.MustCompile(`(?i)repeat\s+(everything|all|the\s+text)\s+(above|before|from\s+the\s+start|from\s+the\s+beginning)`), "exfiltration:repeat_above", 0.7},
	// Attempts to forge markers or conversation boundaries.
	{regexp.MustCompile(`COLLECTED_INFO:|CUSTOM_FIELDS:`), "context_manipulation:marker_forgery", 0.8},
	{regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>`), "context_manipulation:special_tokens", 0.9},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant|user)\s*:`), "context_manipulation:role_markers", 0.7},
	{regexp.MustCompile(`(?i)\bSTEP\s*:\s*[a-z_]+`), "context_manipulation:step_forgery", 0.7},
	{regexp.MustCompile(`<\s*(script|img|iframe|object|embed|link|style|svg|form)\b`), "obfuscation:html_injection", 0.6},
	{regexp.MustCompile(`(?i)base64\s*(encode|decode|:)|\\x[0-9a-fA-F]{2}`), "obfuscation:encoding", 0.5},
}

// ScanForPromptInjection scores inbound user text. The score is the heaviest
// signal plus 0.1 for each additional one, capped at 1.0.
func ScanForPromptInjection(message string) PromptGuardResult {
	if strings.TrimSpace(message) == "" {
		return PromptGuardResult{}
	}

	var reasons []string
	maxWeight := 0.0
	for _, p := range promptGuardPatterns {
		if p.re.MatchString(message) {
			reasons = append(reasons, p.reason)
			if p.weight > maxWeight {
				maxWeight = p.weight
			}
		}
	}

	score := maxWeight
	if len(reasons) > 1 {
		score = maxWeight + float64(len(reasons)-1)*0.1
		if score > 1.0 {
			score = 1.0
		}
	}
	return PromptGuardResult{
		Blocked: score >= blockThreshold,
		Score:   score,
		Reasons: reasons,
	}
}

// OutputGuardResult is the outcome of scanning an outbound reply.
type OutputGuardResult struct {
	Leaked  bool
	Reasons []string
	// Sanitized is the cleaned reply, or empty when it cannot be salvaged.
	Sanitized string
}

type outputLeakPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool // block entirely instead of stripping the offending line
}

var outputLeakPatterns = []outputLeakPattern{
	{regexp.MustCompile(`(?i)my (system\s+)?prompt\s+(is|says|tells|instructs)`), "leak:system_prompt_disclosure", true},
	{regexp.MustCompile(`(?i)my instructions?\s+(are|say|tell|include|require)`), "leak:instructions_disclosure", true},
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|bearer\s+token)\s*[:=]\s*\S+`), "leak:credential", true},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16}`), "leak:aws_key", true},
	{regexp.MustCompile(`(?i)(postgres|mysql|redis|nats)://\S+`), "leak:connection_url", true},
	{regexp.MustCompile(`(?i)(powered by|built on|running on)\s+(Claude|GPT|OpenAI|Anthropic|Bedrock|Gemini)`), "leak:tech_stack", false},
}

// promptInternalsRE matches whole lines that echo parts of the system prompt
// back to the user.
var promptInternalsRE = regexp.MustCompile(`(?im)^.*(?:\bSTEP:\s*[a-z_]+|KNOWN PROFILE:|Suggested reply:|record_contact_info|record_custom_fields).*$\n?`)

var techStackSentenceRE = regexp.MustCompile(`(?i)[^.!?\n]*\b(powered by|built on|running on)\s+(Claude|GPT|OpenAI|Anthropic|Bedrock|Gemini)\b[^.!?\n]*[.!?]?\s*`)

// ScanOutputForLeaks checks an outbound reply for leaked prompt internals and
// infrastructure details.
func ScanOutputForLeaks(reply string) OutputGuardResult {
	if strings.TrimSpace(reply) == "" {
		return OutputGuardResult{Sanitized: reply}
	}

	var reasons []string
	shouldBlock := false
	for _, p := range outputLeakPatterns {
		if p.re.MatchString(reply) {
			reasons = append(reasons, p.reason)
			if p.block {
				shouldBlock = true
			}
		}
	}
	if promptInternalsRE.MatchString(reply) {
		reasons = append(reasons, "leak:prompt_internals")
	}
	if len(reasons) == 0 {
		return OutputGuardResult{Sanitized: reply}
	}

	result := OutputGuardResult{Leaked: true, Reasons: reasons}
	if shouldBlock {
		return result
	}
	cleaned := promptInternalsRE.ReplaceAllString(reply, "")
	cleaned = techStackSentenceRE.ReplaceAllString(cleaned, "")
	result.Sanitized = strings.TrimSpace(cleaned)
	return result
}
