package domain

// captainPickPattern is the repeating group size each captain takes in turn.
var captainPickPattern = []int{1, 2, 2, 2, 1}

// captainCount is subtracted from the lobby size: captains are never picked.
const captainCount = 2

// BuildPickOrder returns how many players change hands on each captain turn
// once two captains are set. The result sums to totalPlayers-2 and is empty
// when there is nobody left to pick. It is advisory; teams are only changed by
// explicit team updates.
func BuildPickOrder(totalPlayers int) []int {
	remaining := totalPlayers - captainCount
	order := []int{}
	for i := 0; remaining > 0; i++ {
		take := min(captainPickPattern[i%len(captainPickPattern)], remaining)
		order = append(order, take)
		remaining -= take
	}
	return order
}

// PickTurn is one captain turn of the advisory order
type PickTurn struct {
	Team  TeamSide `json:"team"`
	Count int      `json:"count"`
}

// PickTurns expands BuildPickOrder into alternating turns starting with team A.
func PickTurns(totalPlayers int) []PickTurn {
	order := BuildPickOrder(totalPlayers)
	turns := make([]PickTurn, len(order))
	team := TeamA
	for i, n := range order {
		turns[i] = PickTurn{Team: team, Count: n}
		team = team.Opponent()
	}
	return turns
}
