package httpapi

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-arena/internal/domain"
)

func pgnResult(g *domain.Game) string {
	if g.Result == nil {
		return "*"
	}
	switch g.Result.Outcome {
	case domain.WhiteWins:
		return "1-0"
	case domain.BlackWins:
		return "0-1"
	case domain.Draw:
		return "1/2-1/2"
	}
	return "*"
}

func buildPGN(g *domain.Game) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.CreatedAt
	result := pgnResult(g)

	b.WriteString("[Event \"Arena game\"]\n")
	b.WriteString("[Site \"cheese-arena\"]\n")
	if date.IsZero() {
		b.WriteString("[Date \"????.??.??\"]\n")
	} else {
		b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	}
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackID)))
	if g.Result != nil {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(g.Result.Cause))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(g.Moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(g.Moves[i].SAN)))
		if i+1 < len(g.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.Moves[i+1].SAN))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
