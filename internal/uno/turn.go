package uno

type Direction int

const (
	Clockwise        Direction = 1
	CounterClockwise Direction = -1
)

func (d Direction) Flip() Direction {
	return -d
}

// NextTurn is the seat after current in the given direction.
func NextTurn(current, playerCount int, direction Direction) int {
	return (current + int(direction) + playerCount) % playerCount
}

// AdvanceTurn applies a play effect and returns the next actor and direction.
//
// With two players a reverse does not flip: it is treated as a plain hand-off to
// the opponent and the direction stays as it was.
func AdvanceTurn(current, playerCount int, direction Direction, effect PlayEffect) (int, Direction) {
	if effect.DirectionFlip && playerCount != 2 {
		direction = direction.Flip()
	}

	next := current
	for range effect.TurnsToSkip {
		next = NextTurn(next, playerCount, direction)
	}
	return NextTurn(next, playerCount, direction), direction
}
