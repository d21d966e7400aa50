package api

import (
	"fmt"

	"mfcnet/internal/model"
)

// AllocateRequest is the wire shape for POST /v1/allocate. Seed is optional;
// zero means derive from the clock.
type AllocateRequest struct {
	CustomerLat float64           `json:"customerLat"`
	CustomerLng float64           `json:"customerLng"`
	Items       []model.OrderItem `json:"items"`
	Seed        int64             `json:"seed,omitempty"`
}

func (r *AllocateRequest) order() model.OrderRequest {
	return model.OrderRequest{
		Customer: model.GeoPoint{Lat: r.CustomerLat, Lng: r.CustomerLng},
		Items:    r.Items,
	}
}

func validateAllocateRequest(req *AllocateRequest) error {
	if req.CustomerLat < -90 || req.CustomerLat > 90 {
		return fmt.Errorf("customerLat must be in [-90, 90]")
	}
	if req.CustomerLng < -180 || req.CustomerLng > 180 {
		return fmt.Errorf("customerLng must be in [-180, 180]")
	}
	// Item-level checks (non-empty, positive quantities) are the engine's
	// business and surface as InvalidOrderError.
	return nil
}

type stockOpRequest struct {
	FacilityID     string `json:"facilityId"`
	FromFacilityID string `json:"fromFacilityId"`
	ToFacilityID   string `json:"toFacilityId"`
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
}

func validateRestock(req *stockOpRequest) error {
	if req.FacilityID == "" || req.ProductID == "" {
		return fmt.Errorf("facilityId and productId are required")
	}
	return nil
}

func validateTransfer(req *stockOpRequest) error {
	if req.FromFacilityID == "" || req.ToFacilityID == "" || req.ProductID == "" {
		return fmt.Errorf("fromFacilityId, toFacilityId and productId are required")
	}
	if req.FromFacilityID == req.ToFacilityID {
		return fmt.Errorf("transfer source and destination must differ")
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	return nil
}

func validateSubscription(req *model.SubscriptionRequest) error {
	if req.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	return nil
}
