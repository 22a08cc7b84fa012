package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinStatementRunes is the default minimum statement length.
const MinStatementRunes = 80

var concreteMarker = regexp.MustCompile(`[0-9０-９%％₩$€£¥]|(?i)\b(?:percent|quarter|million|billion|thousand)\b|분기|퍼센트|억|만\s?명`)

var genericPhrases = []string{
	"discusses trends",
	"mentions growth",
	"explores the topic",
	"provides an overview",
	"글로벌 산업 트렌드에 대해",
	"시장 성장을 보이고",
}

// ValidateStatement reports whether a proposed statement is concrete enough
// for the ledger. A statement must be at least minRunes long, must carry a
// concrete marker (number, percentage, currency, date, quarter) unless it is
// longer than 1.5 times minRunes, and must not contain a generic phrase.
// A non-positive minRunes selects MinStatementRunes.
func ValidateStatement(statement string, minRunes int) bool {
	if minRunes <= 0 {
		minRunes = MinStatementRunes
	}
	statement = strings.TrimSpace(statement)
	n := utf8.RuneCountInString(statement)
	if n < minRunes {
		return false
	}
	if !concreteMarker.MatchString(statement) && n <= minRunes*3/2 {
		return false
	}
	lower := strings.ToLower(statement)
	for _, p := range genericPhrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}
