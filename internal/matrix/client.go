package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const clientPrefix = "/_matrix/client/v3"

// Client interface for testability
type Client interface {
	Login(ctx context.Context) error
	Sync(ctx context.Context, since string, timeout time.Duration) (*SyncResponse, error)
	Messages(ctx context.Context, roomID, from string, dir Direction, limit int) (*MessagesResponse, error)
	JoinedRooms() []string
	PrevBatch(roomID string) string
}

// HTTPClient talks to a Matrix homeserver over the client-server API. It also
// keeps a registry of joined rooms with the earliest-known history token seen
// for each, which the backfill walker uses as its starting position.
type HTTPClient struct {
	httpClient  *http.Client
	homeserver  string
	userID      string
	password    string
	accessToken string
	deviceID    string
	deviceName  string
	limiter     *rate.Limiter
	logger      *zap.Logger

	mu    sync.RWMutex
	rooms map[string]string // room id -> earliest-known prev_batch
}

// NewClient creates a client for the given homeserver. Either password or
// accessToken must be set before Login. ratePerSec bounds outbound request
// rate across all calls.
func NewClient(homeserver, userID, password, accessToken string, ratePerSec int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	if ratePerSec < 1 {
		ratePerSec = 1
	}

	return &HTTPClient{
		// No global timeout: /sync long-polls are bounded per request
		// by a context deadline instead.
		httpClient:  &http.Client{Transport: transport},
		homeserver:  homeserver,
		userID:      userID,
		password:    password,
		accessToken: accessToken,
		deviceName:  "matrix-indexer",
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		logger:      logger,
	}
}

// Login obtains an access token. With a pre-configured token it only
// validates the token against /account/whoami; with a password it performs a
// m.login.password flow under a generated device id.
func (c *HTTPClient) Login(ctx context.Context) error {
	if c.accessToken != "" {
		var who whoamiResponse
		if err := c.doJSON(ctx, http.MethodGet, clientPrefix+"/account/whoami", nil, &who); err != nil {
			return fmt.Errorf("validating access token: %w", err)
		}
		c.logger.Info("using configured access token", zap.String("user_id", who.UserID))
		return nil
	}

	if c.password == "" {
		return fmt.Errorf("%w: neither password nor access token configured", ErrAuthFailed)
	}

	if c.deviceID == "" {
		c.deviceID = "indexer-" + uuid.NewString()[:8]
	}

	req := loginRequest{
		Type:                     "m.login.password",
		Identifier:               loginIdentifier{Type: "m.id.user", User: c.userID},
		Password:                 c.password,
		DeviceID:                 c.deviceID,
		InitialDeviceDisplayName: c.deviceName,
	}

	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, clientPrefix+"/login", req, &resp); err != nil {
		return fmt.Errorf("password login: %w", err)
	}

	c.accessToken = resp.AccessToken
	c.logger.Info("logged in",
		zap.String("user_id", resp.UserID),
		zap.String("device_id", resp.DeviceID),
	)
	return nil
}

// Sync long-polls the event stream from the given resume token. The server
// holds the request open up to timeout; the wrapping context deadline adds a
// grace period so a hung server cannot stall the caller indefinitely.
func (c *HTTPClient) Sync(ctx context.Context, since string, timeout time.Duration) (*SyncResponse, error) {
	q := url.Values{}
	q.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	if since != "" {
		q.Set("since", since)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+30*time.Second)
	defer cancel()

	var resp SyncResponse
	if err := c.doJSON(ctx, http.MethodGet, clientPrefix+"/sync?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	c.recordRooms(&resp)
	return &resp, nil
}

// Messages fetches one page of room history. An empty from token starts at
// the live edge of the room.
func (c *HTTPClient) Messages(ctx context.Context, roomID, from string, dir Direction, limit int) (*MessagesResponse, error) {
	q := url.Values{}
	q.Set("dir", string(dir))
	q.Set("limit", strconv.Itoa(limit))
	if from != "" {
		q.Set("from", from)
	}

	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()

	var resp MessagesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinedRooms returns the ids of rooms observed via sync, sorted for stable
// iteration.
func (c *HTTPClient) JoinedRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// PrevBatch returns the earliest-known history token for the room, or ""
// when the room has not been observed.
func (c *HTTPClient) PrevBatch(roomID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[roomID]
}

// recordRooms retains the first prev_batch seen per room. Later syncs carry
// tokens closer to the live edge, so the first one stays the walker's best
// starting point.
func (c *HTTPClient) recordRooms(resp *SyncResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rooms == nil {
		c.rooms = make(map[string]string)
	}
	for roomID, joined := range resp.Rooms.Join {
		if _, known := c.rooms[roomID]; !known {
			c.rooms[roomID] = joined.Timeline.PrevBatch
		}
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.homeserver+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("request", zap.String("method", method), zap.String("path", req.URL.Path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}

	data, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading response: %w", readErr)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthFailed, errcodeOf(data))
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errcodeOf extracts the protocol error code from a standard error body.
func errcodeOf(data []byte) string {
	var e struct {
		Errcode string `json:"errcode"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &e); err != nil || e.Errcode == "" {
		return "unknown error"
	}
	if e.Error != "" {
		return e.Errcode + ": " + e.Error
	}
	return e.Errcode
}

var _ Client = (*HTTPClient)(nil)
