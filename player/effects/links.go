package effects

// Endpoint names one end of a router-owned connection: the master bus, the
// router output, or a unit by its index in Order.
type Endpoint int

// Fixed endpoints.
const (
	Bus    Endpoint = -1
	Output Endpoint = -2
)

func (e Endpoint) String() string {
	switch e {
	case Bus:
		return "bus"
	case Output:
		return "output"
	}
	if e >= 0 && int(e) < numUnits {
		return string(Order[e])
	}
	return "invalid"
}

// Link is one connection from the exit of From to the entry of To.
type Link struct {
	From Endpoint
	To   Endpoint
}

// Links returns the chain for the given enabled flags: bus into the first
// enabled unit, each enabled unit into the next, the last into the output.
// Disabled units are bypassed. The result always has one more link than
// there are enabled units.
func Links(enabled [numUnits]bool) []Link {
	links := make([]Link, 0, numUnits+1)
	tail := Bus
	for i, on := range enabled {
		if !on {
			continue
		}
		links = append(links, Link{From: tail, To: Endpoint(i)})
		tail = Endpoint(i)
	}
	return append(links, Link{From: tail, To: Output})
}
