package engine

import "mfcnet/internal/model"

// SelectAgent picks the candidate maximizing
// (10 - distanceToCustomer) * 10 + rating * 10.
// Ties keep the earliest candidate, so the choice is stable over input
// order. The formula scores distance to the customer rather than to the
// pickup facility; agent_test.go pins that behavior.
func SelectAgent(candidates []model.Agent, customer model.GeoPoint) (model.Agent, bool) {
	if len(candidates) == 0 {
		return model.Agent{}, false
	}
	best := candidates[0]
	bestScore := agentScore(best, customer)
	for _, a := range candidates[1:] {
		if s := agentScore(a, customer); s > bestScore {
			best = a
			bestScore = s
		}
	}
	return best, true
}

func agentScore(a model.Agent, customer model.GeoPoint) float64 {
	return (10-Distance(a.Location, customer))*10 + a.Rating*10
}
