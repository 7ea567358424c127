package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON recovers a JSON value from a raw LLM response by trying, in
// order, until one parses into out:
//
//  1. the content of a fenced ```json ... ``` block
//  2. the largest balanced {...} or [...] substring: if the first '{'
//     precedes the first '[', take '{' through the last '}'; otherwise
//     take '[' through the last ']'
//  3. the entire body
//
// Preserving this order matters: real LLMs interleave prose with the JSON
// block and occasionally elide the fence.
func ExtractJSON(raw string, out any) error {
	candidates := candidateJSONStrings(raw)
	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no JSON candidate found")
	}
	return fmt.Errorf("llm: extract JSON: %w", lastErr)
}

func candidateJSONStrings(raw string) []string {
	var out []string

	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}

	if bal := balancedBracketSubstring(raw); bal != "" {
		out = append(out, bal)
	}

	out = append(out, strings.TrimSpace(raw))
	return out
}

// balancedBracketSubstring picks the substring between the first opening
// bracket and the matching-family last closing bracket, choosing between
// '{'/'}' and '['/']' by whichever opener occurs first in raw.
func balancedBracketSubstring(raw string) string {
	firstObj := strings.IndexByte(raw, '{')
	firstArr := strings.IndexByte(raw, '[')

	useObject := firstObj != -1 && (firstArr == -1 || firstObj < firstArr)
	useArray := firstArr != -1 && (firstObj == -1 || firstArr < firstObj)

	switch {
	case useObject:
		if last := strings.LastIndexByte(raw, '}'); last > firstObj {
			return raw[firstObj : last+1]
		}
	case useArray:
		if last := strings.LastIndexByte(raw, ']'); last > firstArr {
			return raw[firstArr : last+1]
		}
	}
	return ""
}
