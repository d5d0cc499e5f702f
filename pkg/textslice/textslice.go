// Package textslice locates quoted fragments inside their source text and
// converts them to byte offsets. Models echo back the prediction sentence
// rather than offsets, so the locator has to survive whitespace mangling.
package textslice

import (
	"fmt"
	"strings"
	"unicode"
)

// Slice is a half-open [Start, End) byte range into the source text.
type Slice struct {
	Start int
	End   int
	// Ambiguous is set when the fragment occurs more than once and the
	// first occurrence was chosen.
	Ambiguous bool
}

// NotFoundError reports a fragment that could not be located, including the
// tokenized forms so logs show what was compared.
type NotFoundError struct {
	Fragment      string
	SourceWords   []string
	FragmentWords []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fragment not found in source: fragment words %v, source words %v",
		e.FragmentWords, e.SourceWords)
}

// Locate finds fragment inside source and returns its byte range.
//
// An exact substring match is tried first. If that fails (typically because
// the model collapsed or normalized whitespace), the fragment is matched as a
// contiguous word sequence and the range spans from the first matched word's
// start to the last matched word's end in the original source.
func Locate(source, fragment string) (Slice, error) {
	if fragment == "" {
		return Slice{}, fmt.Errorf("fragment is empty")
	}

	if idx := strings.Index(source, fragment); idx >= 0 {
		s := Slice{Start: idx, End: idx + len(fragment)}
		if strings.Index(source[idx+1:], fragment) >= 0 {
			s.Ambiguous = true
		}
		return s, nil
	}

	sourceTokens := tokenize(source)
	fragmentWords := strings.Fields(fragment)
	if len(fragmentWords) == 0 {
		return Slice{}, fmt.Errorf("fragment is empty")
	}

	match := -1
	for i := 0; i+len(fragmentWords) <= len(sourceTokens); i++ {
		if windowMatches(sourceTokens[i:i+len(fragmentWords)], fragmentWords) {
			match = i
			break
		}
	}
	if match < 0 {
		words := make([]string, len(sourceTokens))
		for i, tok := range sourceTokens {
			words[i] = tok.text
		}
		return Slice{}, &NotFoundError{
			Fragment:      fragment,
			SourceWords:   words,
			FragmentWords: fragmentWords,
		}
	}

	s := Slice{
		Start: sourceTokens[match].start,
		End:   sourceTokens[match+len(fragmentWords)-1].end,
	}

	// A second word-level occurrence makes the slice ambiguous too.
	for i := match + 1; i+len(fragmentWords) <= len(sourceTokens); i++ {
		if windowMatches(sourceTokens[i:i+len(fragmentWords)], fragmentWords) {
			s.Ambiguous = true
			break
		}
	}
	return s, nil
}

// Ref names a fragment and the source text it should be located in.
type Ref struct {
	SourceID string
	Fragment string
}

// Located pairs a resolved slice with its source id.
type Located struct {
	SourceID string
	Slice    Slice
}

// LocateAll resolves each ref against its source, in order. A ref naming an
// unknown source id or an unlocatable fragment fails the whole batch.
func LocateAll(sources map[string]string, refs []Ref) ([]Located, error) {
	out := make([]Located, 0, len(refs))
	for _, ref := range refs {
		source, ok := sources[ref.SourceID]
		if !ok {
			return nil, fmt.Errorf("fragment references unknown source %s", ref.SourceID)
		}
		s, err := Locate(source, ref.Fragment)
		if err != nil {
			return nil, err
		}
		out = append(out, Located{SourceID: ref.SourceID, Slice: s})
	}
	return out, nil
}

type token struct {
	text  string
	start int
	end   int
}

// tokenize splits source into maximal runs of non-whitespace with their byte spans.
func tokenize(source string) []token {
	var tokens []token
	start := -1
	for i, r := range source {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, token{text: source[start:i], start: start, end: i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: source[start:], start: start, end: len(source)})
	}
	return tokens
}

func windowMatches(window []token, words []string) bool {
	for i, w := range words {
		if window[i].text != w {
			return false
		}
	}
	return true
}
