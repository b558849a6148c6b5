package domain

// Event types emitted by the project registry, one per successful mutation.
const (
	EventProjectPosted     = "ProjectPosted"
	EventOfferPlaced       = "OfferPlaced"
	EventProjectAssigned   = "ProjectAssigned"
	EventSolutionSubmitted = "SolutionSubmitted"
	EventSolutionAccepted  = "SolutionAccepted"
	EventSolutionRejected  = "SolutionRejected"
)

var EventTypes = []string{
	EventProjectPosted,
	EventOfferPlaced,
	EventProjectAssigned,
	EventSolutionSubmitted,
	EventSolutionAccepted,
	EventSolutionRejected,
}

func IsEventType(t string) bool {
	for _, known := range EventTypes {
		if known == t {
			return true
		}
	}
	return false
}
