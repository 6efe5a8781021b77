package scoring

// Grade is the letter bucket derived from a total score.
type Grade string

const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// GradeFor maps a total score to its letter grade. Every integer maps to a
// grade; negatives and 0-99 both land on F.
func GradeFor(score int) Grade {
	switch {
	case score >= 1000:
		return GradeS
	case score >= 750:
		return GradeA
	case score >= 500:
		return GradeB
	case score >= 250:
		return GradeC
	case score >= 100:
		return GradeD
	default:
		return GradeF
	}
}
