// Package main runs a demo WebSocket client for allocation events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body []byte) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("POST %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: status %d", path, resp.StatusCode)
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Seed a minimal network
	post(base, "/v1/facilities", []byte(`{"facilities":[{"id":"f_demo","district":"d1","location":{"lat":10.776,"lng":106.695},"capacity":100,"currentLoad":10,"status":"active","avgDeliveryTimeMin":18,"agentIds":["ag_demo"]}]}`))
	post(base, "/v1/products", []byte(`{"products":[{"id":"p_demo","name":"Demo SKU","price":50000}]}`))
	post(base, "/v1/agents", []byte(`{"agents":[{"id":"ag_demo","location":{"lat":10.78,"lng":106.70},"available":true,"rating":4.5,"deliveryRadiusKm":10,"vehicleClass":"motorbike"}]}`))
	post(base, "/v1/stock", []byte(`{"stock":[{"facilityId":"f_demo","productId":"p_demo","quantity":50,"minThreshold":10,"maxCapacity":200}]}`))

	// Connect WS and subscribe to allocation events
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/allocations/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	var ack wsMessage
	if err := c.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		log.Fatalf("expected connection_ack, got %+v (err %v)", ack, err)
	}
	sub, _ := json.Marshal(map[string]any{"events": []string{"allocation.completed"}})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: sub}); err != nil {
		log.Fatal(err)
	}

	// Trigger an allocation so something arrives on the stream
	go func() {
		time.Sleep(200 * time.Millisecond)
		post(base, "/v1/allocate", []byte(`{"customerLat":10.77,"customerLng":106.70,"items":[{"productId":"p_demo","quantity":2}],"seed":42}`))
	}()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			log.Fatal(err)
		}
		switch msg.Type {
		case "ping":
			_ = c.WriteJSON(wsMessage{Type: "pong"})
		case "next":
			log.Printf("event: %s", string(msg.Payload))
			_ = c.WriteJSON(wsMessage{Type: "complete", ID: msg.ID})
			return
		}
	}
	log.Fatal("no allocation event received")
}
