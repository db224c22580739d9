package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/cinema-seat-board/internal/model"
)

const maxErrorBody = 64 * 1024

// Client talks to the seat reservation API.  A Client is safe for
// concurrent use.  WithCredential derives a copy bound to one user's
// bearer credential; the credential is treated as opaque.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8000/api/v1".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCredential returns a copy of the client that authenticates its
// calls with the given bearer credential.
func (c *Client) WithCredential(credential string) *Client {
	cp := *c
	cp.credential = credential
	return &cp
}

// GetAvailability fetches the authoritative seat snapshot for a
// screening.  With forUser set the call is authenticated so the server
// can flag the caller's own holds.
func (c *Client) GetAvailability(ctx context.Context, screeningID int64, forUser bool) ([]SeatAvailability, error) {
	path := "/seat-reservations/screening/" + strconv.FormatInt(screeningID, 10) + "/availability"
	if forUser {
		path += "/me"
	}
	body, err := c.do(ctx, http.MethodGet, path, nil, forUser)
	if err != nil {
		return nil, err
	}
	seats, err := decodeAvailability(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return seats, nil
}

// ToggleSeat reserves a free seat or releases one held by the caller.
// A 409 answer surfaces as ErrConflict.
func (c *Client) ToggleSeat(ctx context.Context, screeningID, seatID int64) (ToggleResult, error) {
	var resp toggleResponse
	if err := c.doJSON(ctx, http.MethodPost, "/seat-reservations/toggle", toggleRequest{
		ScreeningID: screeningID,
		SeatID:      seatID,
	}, &resp); err != nil {
		return ToggleResult{}, err
	}
	switch resp.Action {
	case ActionReserved, ActionUnreserved:
	default:
		return ToggleResult{}, fmt.Errorf("%w: unknown toggle action %q", ErrNetwork, resp.Action)
	}
	return resp.normalize(), nil
}

// ExtendHold pushes the expiry of the given holds by extraMinutes and
// returns the new expiry.  ErrNotFound means the holds already lapsed.
func (c *Client) ExtendHold(ctx context.Context, reservationIDs []int64, extraMinutes int) (time.Time, error) {
	var resp extendResponse
	if err := c.doJSON(ctx, http.MethodPost, "/seat-reservations/extend", extendRequest{
		ReservationIDs: reservationIDs,
		ExtraMinutes:   extraMinutes,
	}, &resp); err != nil {
		return time.Time{}, err
	}
	t, ok := model.ParseTimestamp(resp.ExpiresAt)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: invalid expires_at %q", ErrNetwork, resp.ExpiresAt)
	}
	return t, nil
}

// CancelAllHolds releases every hold the caller has on the screening.
func (c *Client) CancelAllHolds(ctx context.Context, screeningID int64) error {
	var resp messageResponse
	path := "/seat-reservations/cancel/" + strconv.FormatInt(screeningID, 10)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return err
	}
	c.log.Debug("holds cancelled", "screening_id", screeningID, "message", resp.Message)
	return nil
}

// CancelSeats releases the caller's holds on specific seats and returns
// how many were cancelled.
func (c *Client) CancelSeats(ctx context.Context, screeningID int64, seatIDs []int64) (int, error) {
	var resp cancelSeatsResponse
	if err := c.doJSON(ctx, http.MethodPost, "/seat-reservations/cancel", cancelSeatsRequest{
		ScreeningID: screeningID,
		SeatIDs:     seatIDs,
	}, &resp); err != nil {
		return 0, err
	}
	return resp.CancelledCount, nil
}

// RedeemHolds turns paid holds into tickets.
func (c *Client) RedeemHolds(ctx context.Context, reservationIDs []int64, paymentRef string) ([]model.Ticket, error) {
	var resp redeemResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tickets/book-from-reservation", redeemRequest{
		ReservationIDs: reservationIDs,
		PaymentID:      paymentRef,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Tickets, nil
}

// doJSON performs an authenticated call and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.do(ctx, method, path, in, true)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ErrNetwork, method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, auth bool) ([]byte, error) {
	if auth && c.credential == "" {
		return nil, ErrAuth
	}
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.log.Debug("reservation api rejected request",
			"method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))
		return nil, NewAPIError(resp.StatusCode, errorDetail(raw))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	c.log.Debug("reservation api call",
		"method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))
	return body, nil
}

// errorDetail extracts a human readable message from an error body.
// FastAPI style {"detail": "..."} and {"message": "..."} are recognized;
// structured details are returned as raw JSON.
func errorDetail(raw []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		return string(body.Detail)
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
