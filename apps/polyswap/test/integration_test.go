package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	if !integrationEnabled() {
		t.Skip("Set POLYSWAP_INTEGRATION_TEST=1 to run against a local service")
	}

	resp, err := http.Get(BaseURL + "/api/health")
	if err != nil {
		t.Fatalf("Failed to reach health endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %q", health["status"])
	}
}

func TestCreateOrderFlow(t *testing.T) {
	if !integrationEnabled() {
		t.Skip("Set POLYSWAP_INTEGRATION_TEST=1 to run against a local service")
	}

	now := uint64(time.Now().Unix())
	createReq := CreateOrderRequest{
		Owner:        TestWalletAddress,
		SellToken:    TestSellToken,
		BuyToken:     TestBuyToken,
		SellAmount:   TestSellAmount,
		MinBuyAmount: TestMinBuyAmount,
		StartTime:    now,
		EndTime:      now + 86400,
		MarketID:     "integration-market",
	}

	reqBody, err := json.Marshal(createReq)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	resp, err := http.Post(BaseURL+"/api/orders", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		t.Fatalf("Failed to make POST request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var errorResp ErrorResponse
		json.NewDecoder(resp.Body).Decode(&errorResp)
		t.Fatalf("Expected status 201, got %d. Error: %s - %s",
			resp.StatusCode, errorResp.Error, errorResp.Message)
	}

	var createResp CreateOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&createResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if createResp.OrderID == "" {
		t.Error("OrderID should not be empty")
	}
	if !strings.HasPrefix(createResp.OrderHash, "0x") || len(createResp.OrderHash) != 66 {
		t.Errorf("OrderHash should be 32 hex bytes, got %q", createResp.OrderHash)
	}
	if !strings.HasPrefix(createResp.OrderUID, "0x") || len(createResp.OrderUID) != 114 {
		t.Errorf("OrderUID should be 56 hex bytes, got %q", createResp.OrderUID)
	}
	if createResp.Batch == nil || len(createResp.Batch.Steps) == 0 {
		t.Fatal("Batch should carry at least the create step")
	}

	// The main transaction is always last
	last := createResp.Batch.Steps[len(createResp.Batch.Steps)-1]
	if last.Description != "Create conditional order" {
		t.Errorf("Last step should be the create transaction, got %q", last.Description)
	}
	if last.Data == "" || last.To == "" {
		t.Error("Create step should carry calldata and a target")
	}

	// The draft is not visible by hash until confirmed and observed, but
	// fetching an unknown hash must be a clean 404
	getResp, err := http.Get(BaseURL + "/api/orders/0x" + strings.Repeat("00", 32))
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown hash, got %d", getResp.StatusCode)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	if !integrationEnabled() {
		t.Skip("Set POLYSWAP_INTEGRATION_TEST=1 to run against a local service")
	}

	cases := []struct {
		name    string
		mutate  func(*CreateOrderRequest)
		errCode string
	}{
		{"bad owner", func(r *CreateOrderRequest) { r.Owner = "not-an-address" }, "invalid_owner"},
		{"bad amount", func(r *CreateOrderRequest) { r.SellAmount = "12.5" }, "invalid_sell_amount"},
		{"inverted window", func(r *CreateOrderRequest) { r.EndTime = r.StartTime - 1 }, "invalid_time_window"},
	}

	now := uint64(time.Now().Unix())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := CreateOrderRequest{
				Owner:        TestWalletAddress,
				SellToken:    TestSellToken,
				BuyToken:     TestBuyToken,
				SellAmount:   TestSellAmount,
				MinBuyAmount: TestMinBuyAmount,
				StartTime:    now,
				EndTime:      now + 86400,
			}
			tc.mutate(&req)

			reqBody, _ := json.Marshal(req)
			resp, err := http.Post(BaseURL+"/api/orders", "application/json", bytes.NewBuffer(reqBody))
			if err != nil {
				t.Fatalf("Failed to make POST request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", resp.StatusCode)
			}

			var errorResp ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if errorResp.Error != tc.errCode {
				t.Errorf("Expected error code %q, got %q", tc.errCode, errorResp.Error)
			}
		})
	}
}

func TestCancelOrderOwnerScoping(t *testing.T) {
	if !integrationEnabled() {
		t.Skip("Set POLYSWAP_INTEGRATION_TEST=1 to run against a local service")
	}

	unknownHash := "0x" + strings.Repeat("00", 32)
	cancelURL := BaseURL + "/api/orders/" + unknownHash + "/cancel"

	t.Run("missing owner", func(t *testing.T) {
		body, _ := json.Marshal(CancelOrderRequest{})
		resp, err := http.Post(cancelURL, "application/json", bytes.NewBuffer(body))
		if err != nil {
			t.Fatalf("Failed to make POST request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", resp.StatusCode)
		}
		var errorResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			t.Fatalf("Failed to decode error response: %v", err)
		}
		if errorResp.Error != "invalid_owner" {
			t.Errorf("Expected error code invalid_owner, got %q", errorResp.Error)
		}
	})

	// A wallet that does not own the order must get a 404, never the
	// cancellation batch for someone else's order
	t.Run("foreign owner", func(t *testing.T) {
		body, _ := json.Marshal(CancelOrderRequest{Owner: "0x000000000000000000000000000000000000dEaD"})
		resp, err := http.Post(cancelURL, "application/json", bytes.NewBuffer(body))
		if err != nil {
			t.Fatalf("Failed to make POST request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("Expected status 404, got %d", resp.StatusCode)
		}
		var errorResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			t.Fatalf("Failed to decode error response: %v", err)
		}
		if errorResp.Error != "order_not_found" {
			t.Errorf("Expected error code order_not_found, got %q", errorResp.Error)
		}
	})
}

func TestListOrdersByOwner(t *testing.T) {
	if !integrationEnabled() {
		t.Skip("Set POLYSWAP_INTEGRATION_TEST=1 to run against a local service")
	}

	resp, err := http.Get(BaseURL + "/api/orders?owner=" + TestWalletAddress + "&status=live")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var listResp struct {
		Orders []struct {
			Owner  string `json:"owner"`
			Status string `json:"status"`
		} `json:"orders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	for _, order := range listResp.Orders {
		if !strings.EqualFold(order.Owner, TestWalletAddress) {
			t.Errorf("Listing leaked an order owned by %q", order.Owner)
		}
		if order.Status != "live" {
			t.Errorf("Expected only live orders, got status %q", order.Status)
		}
	}

	badResp, err := http.Get(BaseURL + "/api/orders?owner=not-an-address")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad owner, got %d", badResp.StatusCode)
	}
}

func TestReconcilePositionsValidation(t *testing.T) {
	if !integrationEnabled() {
		t.Skip("Set POLYSWAP_INTEGRATION_TEST=1 to run against a local service")
	}

	body := []byte(`{"owner":"` + TestWalletAddress + `","positions":[]}`)
	resp, err := http.Post(BaseURL+"/api/positions/reconcile", "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("Failed to make POST request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400 for empty positions, got %d", resp.StatusCode)
	}
}
