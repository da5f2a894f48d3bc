package partner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

// Client talks to the partner event feed. FetchUnacknowledged returns the
// current batch of pending events; Acknowledge removes one event from the
// feed so it is never returned again.
type Client interface {
	FetchUnacknowledged(ctx context.Context) ([]model.PartnerEvent, error)
	Acknowledge(ctx context.Context, eventID string) error
}

// HTTPClient is the real feed client. Authentication is a static API key
// sent on every request.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// eventDTO is the partner's wire shape. Unknown actions and object types
// deliberately map to the untreatable variants instead of failing, so one
// unexpected value never stalls the whole feed.
type eventDTO struct {
	ID            int64  `json:"identifiant"`
	Action        string `json:"action"`
	ObjectType    string `json:"type"`
	ObjectID      int64  `json:"idType"`
	BeneficiaryID string `json:"idDossier"`
	Date          string `json:"date"`
}

func (c *HTTPClient) FetchUnacknowledged(ctx context.Context) ([]model.PartnerEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/operateurs/events", nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}
	req.Header.Set("X-Gravitee-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching partner events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("partner feed returned status %d", resp.StatusCode)
	}

	var dtos []eventDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("decoding partner events: %w", err)
	}

	events := make([]model.PartnerEvent, 0, len(dtos))
	for _, d := range dtos {
		events = append(events, d.toModel())
	}
	return events, nil
}

func (c *HTTPClient) Acknowledge(ctx context.Context, eventID string) error {
	url := c.baseURL + "/operateurs/events/" + eventID + "/ack"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("building ack request: %w", err)
	}
	req.Header.Set("X-Gravitee-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("acknowledging partner event %s: %w", eventID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("partner ack for event %s returned status %d", eventID, resp.StatusCode)
	}
	return nil
}

func (d eventDTO) toModel() model.PartnerEvent {
	ev := model.PartnerEvent{
		ID:            strconv.FormatInt(d.ID, 10),
		Type:          model.PartnerEventUntreatable,
		Object:        model.PartnerObjectUntreatable,
		ObjectID:      strconv.FormatInt(d.ObjectID, 10),
		BeneficiaryID: d.BeneficiaryID,
	}

	switch d.Action {
	case "CREATE":
		ev.Type = model.PartnerEventCreate
	case "UPDATE":
		ev.Type = model.PartnerEventUpdate
	case "DELETE":
		ev.Type = model.PartnerEventDelete
	}

	switch d.ObjectType {
	case "RDV":
		ev.Object = model.PartnerObjectAppointment
	case "SESSION":
		ev.Object = model.PartnerObjectSession
	}

	if t, err := time.Parse(time.RFC3339, d.Date); err == nil {
		ev.OccurredAt = t
	}
	return ev
}
