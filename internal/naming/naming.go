package naming

import (
	"strings"
	"unicode"
)

// Candidate sources, best first.
const (
	SourceControlD  = "controld"
	SourceCache     = "cache"
	SourceProfileID = "profile_id"
)

type Candidate struct {
	Name   string
	Source string
}

// NormalizeCandidate trims, collapses whitespace and drops control
// characters. Any other text, symbols and emoji included, is kept as is. ok
// is false when nothing remains.
func NormalizeCandidate(source, rawName string) (display string, score int, ok bool) {
	source = strings.ToLower(strings.TrimSpace(source))

	var b strings.Builder
	for _, r := range rawName {
		if unicode.IsControl(r) {
			r = ' '
		}
		b.WriteRune(r)
	}
	display = strings.Join(strings.Fields(b.String()), " ")
	if display == "" {
		return "", 0, false
	}

	score = scoreSource(source)
	if display != strings.TrimSpace(rawName) {
		score -= 5
	}
	return display, score, true
}

// ChooseBestDisplayName picks the highest scoring usable candidate. Ties go
// to the earlier candidate.
func ChooseBestDisplayName(candidates []Candidate) (string, bool) {
	best, bestScore := "", -1
	for _, c := range candidates {
		display, score, ok := NormalizeCandidate(c.Source, c.Name)
		if !ok || score <= bestScore {
			continue
		}
		best, bestScore = display, score
	}
	return best, bestScore >= 0
}

// ForProfile returns the display name for a profile, falling back to the
// previous display name and then to the profile id.
func ForProfile(profileID, remoteName, previous string) string {
	name, ok := ChooseBestDisplayName([]Candidate{
		{Name: remoteName, Source: SourceControlD},
		{Name: previous, Source: SourceCache},
		{Name: "Profile " + profileID, Source: SourceProfileID},
	})
	if !ok {
		return profileID
	}
	return name
}

func scoreSource(source string) int {
	switch source {
	case SourceControlD:
		return 90
	case SourceCache:
		return 60
	case SourceProfileID:
		return 10
	}
	return 30
}
