package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

// Client is a thin HTTP client for the fleet API. Transport errors come
// back unwrapped so callers can run them through network classification;
// HTTP-level failures come back as "http <code>".
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

func NewClient(cfg config.RemoteConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks reachability and credentials in one round trip.
func (c *Client) Ping(ctx context.Context) error {
	return c.doGet(ctx, c.baseURL+"/api/v1/ping", nil)
}

func (c *Client) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	endpoint := fmt.Sprintf("%s/api/v1/deliveries/%s", c.baseURL, url.PathEscape(id))
	var delivery models.Delivery
	if err := c.doGet(ctx, endpoint, &delivery); err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (c *Client) ListAssignedDeliveries(ctx context.Context, driverID string) ([]*models.Delivery, error) {
	endpoint := fmt.Sprintf("%s/api/v1/drivers/%s/deliveries", c.baseURL, url.PathEscape(driverID))
	var wrap struct {
		Deliveries []*models.Delivery `json:"deliveries"`
	}
	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	return wrap.Deliveries, nil
}

func (c *Client) AcceptDelivery(ctx context.Context, deliveryID string) error {
	endpoint := fmt.Sprintf("%s/api/v1/deliveries/%s/accept", c.baseURL, url.PathEscape(deliveryID))
	return c.doPost(ctx, endpoint, nil, nil)
}

func (c *Client) UpdateDeliveryStatus(ctx context.Context, deliveryID, status, note string) error {
	endpoint := fmt.Sprintf("%s/api/v1/deliveries/%s/status", c.baseURL, url.PathEscape(deliveryID))
	body := map[string]string{"status": status}
	if note != "" {
		body["note"] = note
	}
	return c.doPost(ctx, endpoint, body, nil)
}

func (c *Client) UpdateLocation(ctx context.Context, ping *models.LocationPing) error {
	return c.doPost(ctx, c.baseURL+"/api/v1/locations", ping, nil)
}

func (c *Client) ReportIncident(ctx context.Context, incident *models.IncidentReport) error {
	return c.doPost(ctx, c.baseURL+"/api/v1/incidents", incident, nil)
}

// photoUpload is the wire form of a pending photo; Data rides as base64.
type photoUpload struct {
	PhotoID    string          `json:"photo_id"`
	DeliveryID string          `json:"delivery_id"`
	PhotoType  string          `json:"photo_type"`
	Data       []byte          `json:"data"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
}

func (c *Client) UploadPhoto(ctx context.Context, photo *models.PendingPhoto) error {
	endpoint := fmt.Sprintf("%s/api/v1/deliveries/%s/photos", c.baseURL, url.PathEscape(photo.DeliveryID))
	body := photoUpload{
		PhotoID:    photo.ID,
		DeliveryID: photo.DeliveryID,
		PhotoType:  photo.PhotoType,
		Data:       photo.Data,
		Metadata:   photo.Metadata,
		CapturedAt: photo.CreatedAt,
	}
	return c.doPost(ctx, endpoint, body, nil)
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Set("x-api-key", c.apiToken)
	}
}
