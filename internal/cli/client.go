package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// ReservationResponse — бронирование из API.
type ReservationResponse struct {
	ID            string `json:"id"`
	ShowtimeID    string `json:"showtime_id"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	PriceCents    int64  `json:"price_cents"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ShowtimeResponse — сеанс из API.
type ShowtimeResponse struct {
	ID         string `json:"id"`
	MovieTitle string `json:"movie_title"`
	HallName   string `json:"hall_name"`
	PriceCents int64  `json:"price_cents"`
	StartsAt   string `json:"starts_at"`
	Status     string `json:"status"`
}

// AcceptedResponse — 202 на асинхронную операцию.
type AcceptedResponse struct {
	Operation string `json:"operation"`
	ID        string `json:"id"`
	Status    string `json:"status"`
}

// --- Request types ---

// CreateReservationRequest — создание бронирования.
type CreateReservationRequest struct {
	ShowtimeID string `json:"showtime_id"`
	UserID     string `json:"user_id"`
	UserEmail  string `json:"user_email"`
}

// CancelTicketsRequest — отмена билетов.
type CancelTicketsRequest struct {
	ShowtimeID string   `json:"showtime_id"`
	UserIDs    []string `json:"user_ids"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для kinobilet API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
// Таймаут больше PENDING_TTL сервера: команды с --wait должны успеть
// дождаться ответа воркера.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// --- Reservations ---

// CreateReservation создаёт бронирование (202, не дожидаясь воркера).
func (c *Client) CreateReservation(req CreateReservationRequest) (*AcceptedResponse, error) {
	var accepted AcceptedResponse
	err := c.post("/api/v1/reservations", req, &accepted)
	return &accepted, err
}

// CreateReservationWait создаёт бронирование и ждёт ответа воркера.
func (c *Client) CreateReservationWait(req CreateReservationRequest) (*ReservationResponse, error) {
	var res ReservationResponse
	err := c.post("/api/v1/reservations?wait=1", req, &res)
	return &res, err
}

// GetReservation возвращает бронирование по ID.
func (c *Client) GetReservation(id string) (*ReservationResponse, error) {
	var res ReservationResponse
	err := c.get("/api/v1/reservations/"+id, &res)
	return &res, err
}

// --- Cancellations ---

// CancelTickets отменяет билеты пользователей на сеанс.
// При wait возвращает echo-ответ воркера, иначе — 202.
func (c *Client) CancelTickets(req CancelTicketsRequest, wait bool) (json.RawMessage, error) {
	path := "/api/v1/tickets/cancel"
	if wait {
		path += "?wait=1"
	}
	var raw json.RawMessage
	err := c.post(path, req, &raw)
	return raw, err
}

// CancelShowtime отменяет сеанс целиком.
func (c *Client) CancelShowtime(id string, wait bool) (json.RawMessage, error) {
	path := "/api/v1/showtimes/" + id + "/cancel"
	if wait {
		path += "?wait=1"
	}
	var raw json.RawMessage
	err := c.post(path, nil, &raw)
	return raw, err
}

// --- Showtimes ---

// GetShowtime возвращает сеанс по ID.
func (c *Client) GetShowtime(id string) (*ShowtimeResponse, error) {
	var s ShowtimeResponse
	err := c.get("/api/v1/showtimes/"+id, &s)
	return &s, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
