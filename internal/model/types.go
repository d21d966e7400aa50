package model

// Core domain types shared by the engine, store and API layers.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Facility status values accepted on the wire.
const (
	FacilityActive      = "active"
	FacilityMaintenance = "maintenance"
	FacilityInactive    = "inactive"
)

// Facility is a micro-fulfillment center. AgentIDs lists the delivery
// agents registered to it; stock is joined separately by (facilityId,
// productId).
type Facility struct {
	ID              string   `json:"id"`
	Name            string   `json:"name,omitempty"`
	District        string   `json:"district,omitempty"`
	Location        GeoPoint `json:"location"`
	Capacity        int      `json:"capacity"`
	CurrentLoad     int      `json:"currentLoad"`
	Status          string   `json:"status"`
	AvgDeliveryTime float64  `json:"avgDeliveryTimeMin"`
	OpensAt         string   `json:"opensAt,omitempty"`
	ClosesAt        string   `json:"closesAt,omitempty"`
	AgentIDs        []string `json:"agentIds,omitempty"`
}

// Product is immutable reference data.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price"`
	WeightKg float64 `json:"weightKg"`
	Category string  `json:"category,omitempty"`
}

// StockRecord tracks quantity on hand for one product at one facility.
// Invariants: quantity >= 0, minThreshold <= maxCapacity.
type StockRecord struct {
	ID            string `json:"id,omitempty"`
	FacilityID    string `json:"facilityId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	MinThreshold  int    `json:"minThreshold"`
	MaxCapacity   int    `json:"maxCapacity"`
	LastRestocked string `json:"lastRestockedAt,omitempty"`
}

// Agent is a delivery worker (shipper).
type Agent struct {
	ID               string   `json:"id"`
	Name             string   `json:"name,omitempty"`
	Location         GeoPoint `json:"location"`
	Available        bool     `json:"available"`
	Rating           float64  `json:"rating"`
	DeliveryRadiusKm float64  `json:"deliveryRadiusKm"`
	VehicleClass     string   `json:"vehicleClass,omitempty"`
	AssignedOrderIDs []string `json:"assignedOrderIds,omitempty"`
}

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderRequest is transient input for one allocation call.
type OrderRequest struct {
	Customer GeoPoint    `json:"customer"`
	Items    []OrderItem `json:"items"`
}

// DemandForecast is read-only reference data keyed by (productId, district).
type DemandForecast struct {
	ProductID       string   `json:"productId"`
	District        string   `json:"district"`
	PredictedDemand float64  `json:"predictedDemand"`
	Confidence      float64  `json:"confidence,omitempty"`
	Factors         []string `json:"factors,omitempty"`
}

// SubscriptionRequest registers a webhook consumer.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// Snapshot is the immutable per-call view the engine computes over. The
// store materializes one consistent snapshot per request; the engine never
// reads the store directly.
type Snapshot struct {
	Facilities []Facility       `json:"facilities"`
	Products   []Product        `json:"products"`
	Stock      []StockRecord    `json:"stock"`
	Agents     []Agent          `json:"agents"`
	Forecasts  []DemandForecast `json:"forecasts"`
}
