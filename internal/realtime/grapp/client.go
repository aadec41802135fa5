package grapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/prehled-vlaku/poller/internal/journey"
)

// Client talks to the grapp train-tracking web service.
type Client struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewClient creates a client for baseURL with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// ListTrains fetches the passenger trains currently in transit.
func (c *Client) ListTrains(ctx context.Context, token string) ([]journey.Train, error) {
	body, err := json.Marshal(defaultTrainFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to encode train filter: %w", err)
	}

	endpoint := c.baseURL + "/post/trains/GetTrainsWithFilter/" + url.PathEscape(token)
	data, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &journey.TransportError{Op: "list trains", Err: err}
	}

	var resp trainsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &journey.TransportError{Op: "list trains", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	trains := make([]journey.Train, 0, len(resp.Trains))
	for _, t := range resp.Trains {
		trains = append(trains, journey.Train{ID: t.ID, Name: strings.TrimSpace(t.Title)})
	}
	return trains, nil
}

// FetchDetail fetches the RouteInfo HTML fragment for one train.
func (c *Client) FetchDetail(ctx context.Context, trainID int64, token string) ([]byte, error) {
	q := url.Values{}
	q.Set("trainId", strconv.FormatInt(trainID, 10))
	q.Set("_", strconv.FormatInt(c.now().Unix(), 10))
	endpoint := c.baseURL + "/OneTrain/RouteInfo/" + url.PathEscape(token) + "?" + q.Encode()

	data, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &journey.TransportError{Op: "fetch detail", TrainID: trainID, Err: err}
	}
	return data, nil
}

// NewToken reads a fresh session token from the hidden token input of the
// service's landing page.
func (c *Client) NewToken(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return "", &journey.TransportError{Op: "fetch token", Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse landing page: %w", err)
	}
	token, ok := doc.Find("input#token").Attr("value")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", fmt.Errorf("landing page has no session token")
	}
	return token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}
