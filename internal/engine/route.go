package engine

import (
	"math/rand"

	"mfcnet/internal/model"
)

// routePriority scores the chosen agent's leg to the customer. The value is
// explanatory output only; it never feeds back into facility selection.
// AgentLoad decays by 25 points per already-assigned order.
func (e *Engine) routePriority(rng *rand.Rand, agent model.Agent, customer model.GeoPoint) float64 {
	legKm := Distance(agent.Location, customer)

	legMin := TravelTime(rng, legKm, agent.VehicleClass)
	etaScore := clampScore(100 - legMin/60*20)

	legCost := legKm*e.costs.FuelRatePerKm + agent.Rating*e.costs.RatingCostFactor
	costScore := clampScore(100 - legCost/e.costs.CostScale*20)

	loadScore := clampScore(100 - float64(len(agent.AssignedOrderIDs))*25)

	return e.routeWeights.ETA*etaScore + e.routeWeights.Cost*costScore + e.routeWeights.AgentLoad*loadScore
}
