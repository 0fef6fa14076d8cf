package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/77mdias/barbershop-hub/store"
)

// SummaryClient reads the polling endpoint fallback callbacks use while no
// push connection is open.
type SummaryClient struct {
	BaseURL string
	Client  *http.Client
}

func NewSummaryClient(baseURL string, client *http.Client) *SummaryClient {
	if client == nil {
		client = &http.Client{}
	}
	return &SummaryClient{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

func (c *SummaryClient) Fetch(ctx context.Context, token string) (store.Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/summary", nil)
	if err != nil {
		return store.Summary{}, fmt.Errorf("build summary request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return store.Summary{}, fmt.Errorf("fetch summary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.Summary{}, fmt.Errorf("fetch summary: unexpected status %s", resp.Status)
	}

	var summary store.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return store.Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}
