package store

import (
	"fmt"
	"strings"
	"time"
)

// ResultToken maps a record to the PGN result tag.
func ResultToken(rec MatchRecord) string {
	if !rec.Finished() {
		return "*"
	}
	if rec.Winner == nil {
		return "1/2-1/2"
	}
	switch *rec.Winner {
	case rec.WhitePlayerID:
		return "1-0"
	case rec.BlackPlayerID:
		return "0-1"
	}
	return "*"
}

// BuildPGN renders the record as a PGN game. SAN is used when the move
// carries it; placeholder games only have coordinates.
func BuildPGN(rec MatchRecord) string {
	result := ResultToken(rec)
	date := rec.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	b.WriteString("[Event \"Socket Chess\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(rec.MatchID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(nameOr(rec.WhiteDisplayName, rec.WhitePlayerID))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(nameOr(rec.BlackDisplayName, rec.BlackPlayerID))))
	if strings.TrimSpace(rec.TimeControl) != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGN(rec.TimeControl)))
	}
	if strings.TrimSpace(rec.GameStatus) != "" && rec.Finished() {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(rec.GameStatus)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(rec.Moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, moveText(rec, i)))
		if i+1 < len(rec.Moves) {
			b.WriteString(" ")
			b.WriteString(moveText(rec, i+1))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func moveText(rec MatchRecord, i int) string {
	m := rec.Moves[i]
	if s := strings.TrimSpace(m.SAN); s != "" {
		return s
	}
	return m.UCI()
}

func nameOr(name, id string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return id
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
