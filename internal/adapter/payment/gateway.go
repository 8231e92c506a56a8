package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/minhpham/flashsale/internal/port"
)

// HTTPGateway creates payment attempts against the external payment
// collaborator. The collaborator later reports success or failure for the
// attempt on a separate request to the confirm endpoint; this client only
// obtains the attempt identifier and client token.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type createAttemptRequest struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
	Amount string `json:"amount"`
}

type createAttemptResponse struct {
	AttemptID   string `json:"attempt_id"`
	ClientToken string `json:"client_token"`
}

func (g *HTTPGateway) CreateAttempt(ctx context.Context, userID, itemID string, amount decimal.Decimal) (port.PaymentAttempt, error) {
	body, err := json.Marshal(createAttemptRequest{
		UserID: userID,
		ItemID: itemID,
		Amount: amount.String(),
	})
	if err != nil {
		return port.PaymentAttempt{}, fmt.Errorf("marshal attempt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/attempts", bytes.NewReader(body))
	if err != nil {
		return port.PaymentAttempt{}, fmt.Errorf("build attempt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return port.PaymentAttempt{}, fmt.Errorf("call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return port.PaymentAttempt{}, fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	var out createAttemptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return port.PaymentAttempt{}, fmt.Errorf("decode attempt response: %w", err)
	}

	return port.PaymentAttempt{AttemptID: out.AttemptID, ClientToken: out.ClientToken}, nil
}

func (g *HTTPGateway) VoidAttempt(ctx context.Context, attemptID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/attempts/"+attemptID+"/void", nil)
	if err != nil {
		return fmt.Errorf("build void request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// StubGateway issues locally generated attempt identifiers. Used when no
// gateway URL is configured (development and tests).
type StubGateway struct{}

func NewStubGateway() *StubGateway {
	return &StubGateway{}
}

func (StubGateway) CreateAttempt(ctx context.Context, userID, itemID string, amount decimal.Decimal) (port.PaymentAttempt, error) {
	id := uuid.NewString()
	return port.PaymentAttempt{AttemptID: id, ClientToken: "tok_" + id}, nil
}

func (StubGateway) VoidAttempt(ctx context.Context, attemptID string) error {
	return nil
}
