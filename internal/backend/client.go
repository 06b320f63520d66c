// Package backend implements the HTTP client for the portal box backend
// API described in the base specification's §6: a single endpoint,
// <website>/api/box.php, dispatched by a "mode" query parameter, grounded
// on original_source/Database.py.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/hybridlabs/portalboxd/internal/fsm"
)

// ErrTransient wraps a backend failure that §7 classifies as
// BackendTransient: the caller may retry (get_card_details retries
// indefinitely; the logging calls retry a bounded number of times and then
// drop the event).
var ErrTransient = errors.New("backend: transient error")

// ErrProfile wraps a failure fetching the equipment profile, which §7
// classifies as fatal at startup (ProfileError).
var ErrProfile = errors.New("backend: profile error")

// Client is the interface internal/input and internal/supervisor use to
// reach the backend, kept narrow so a fake can back tests without an HTTP
// server.
type Client interface {
	CheckRegistration(ctx context.Context, macAddr string) (int, error)
	Register(ctx context.Context, macAddr string) error
	GetProfile(ctx context.Context, macAddr string) (fsm.EquipmentProfile, error)
	GetCardDetails(ctx context.Context, cardID, equipmentTypeID int, profile fsm.EquipmentProfile) (fsm.CardDetails, error)
	GetUser(ctx context.Context, cardID int) (name, email string, err error)
	GetEquipmentName(ctx context.Context, equipmentID int) (string, error)
	LogStartedStatus(ctx context.Context, equipmentID int) error
	LogShutdownStatus(ctx context.Context, equipmentID, cardID int) error
	LogAccessAttempt(ctx context.Context, cardID, equipmentID int, successful bool) error
	LogAccessCompletion(ctx context.Context, cardID, equipmentID int) error
	RecordIP(ctx context.Context, equipmentID int, ip string) error
}

// HTTPClient is the production Client, built on
// github.com/hashicorp/go-retryablehttp for per-attempt transport-level
// retry/backoff. get_card_details additionally wraps each attempt in its
// own indefinite reconnect loop (see below) so that a sustained backend
// outage never surfaces as a grant decision per §7, while the logging
// calls rely solely on the bounded per-attempt retry and record-and-drop
// on final failure.
type HTTPClient struct {
	apiURL      string
	bearerToken string
	logger      *slog.Logger

	retrying *retryablehttp.Client

	cardRetryWait    time.Duration
	cardRetryWaitMax time.Duration
}

// NewHTTPClient constructs an HTTPClient against website+"/api/box.php",
// matching Database.__init__.
func NewHTTPClient(website, bearerToken string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}

	bounded := retryablehttp.NewClient()
	bounded.RetryMax = 5
	bounded.Logger = nil

	return &HTTPClient{
		apiURL:           website + "/api/box.php",
		bearerToken:      bearerToken,
		logger:           logger,
		retrying:         bounded,
		cardRetryWait:    time.Second,
		cardRetryWaitMax: 30 * time.Second,
	}
}

// SetCardRetryBackoff overrides the get_card_details reconnect loop's
// initial wait and cap; tests use this to shrink an otherwise
// multi-second backoff.
func (c *HTTPClient) SetCardRetryBackoff(initial, max time.Duration) {
	c.cardRetryWait = initial
	c.cardRetryWaitMax = max
}

func (c *HTTPClient) newRequest(ctx context.Context, method string, params url.Values) (*retryablehttp.Request, error) {
	u := c.apiURL + "?" + params.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

func (c *HTTPClient) do(client *retryablehttp.Client, ctx context.Context, method string, params url.Values) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, params)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return resp, nil
}

// CheckRegistration calls mode=check_reg. A non-200 response is logged and
// reported as -1, matching Database.is_registered's error handling.
func (c *HTTPClient) CheckRegistration(ctx context.Context, macAddr string) (int, error) {
	params := url.Values{"mode": {"check_reg"}, "mac_adr": {macAddr}}
	resp, err := c.do(c.retrying, ctx, http.MethodGet, params)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("backend API error", "mode", "check_reg")
		return -1, nil
	}

	var n int
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		return -1, fmt.Errorf("decode check_reg response: %w", err)
	}
	return n, nil
}

// Register calls mode=register, matching Database.register.
func (c *HTTPClient) Register(ctx context.Context, macAddr string) error {
	params := url.Values{"mode": {"register"}, "mac_adr": {macAddr}}
	resp, err := c.do(c.retrying, ctx, http.MethodPut, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("backend API error", "mode", "register")
		return fmt.Errorf("%w: register returned %d", ErrTransient, resp.StatusCode)
	}
	return nil
}

// GetProfile calls mode=get_profile. Per §7, a non-200 response here is
// fatal at startup, matching Database.get_equipment_profile's raise.
func (c *HTTPClient) GetProfile(ctx context.Context, macAddr string) (fsm.EquipmentProfile, error) {
	params := url.Values{"mode": {"get_profile"}, "mac_adr": {macAddr}}
	resp, err := c.do(c.retrying, ctx, http.MethodGet, params)
	if err != nil {
		return fsm.EquipmentProfile{}, fmt.Errorf("%w: %w", ErrProfile, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fsm.EquipmentProfile{}, fmt.Errorf("%w: get_profile returned %d", ErrProfile, resp.StatusCode)
	}

	var rows []struct {
		ID               jsonInt    `json:"id"`
		TypeID           jsonInt    `json:"type_id"`
		Name             [2]string  `json:"name"`
		LocationID       jsonInt    `json:"location_id"`
		Timeout          jsonInt    `json:"timeout"`
		AllowProxy       jsonInt    `json:"allow_proxy"`
		RequiresTraining jsonInt    `json:"requires_training"`
		ChargePolicy     jsonInt    `json:"charge_policy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fsm.EquipmentProfile{}, fmt.Errorf("%w: decode get_profile response: %w", ErrProfile, err)
	}
	if len(rows) == 0 {
		return fsm.EquipmentProfile{}, fmt.Errorf("%w: get_profile returned no rows", ErrProfile)
	}

	row := rows[0]
	return fsm.EquipmentProfile{
		EquipmentID:      int(row.ID),
		EquipmentTypeID:  int(row.TypeID),
		EquipmentType:    row.Name[0],
		LocationID:       int(row.LocationID),
		Location:         row.Name[1],
		TimeoutMinutes:   int(row.Timeout),
		AllowProxy:       row.AllowProxy != 0,
		RequiresTraining: row.RequiresTraining != 0,
		RequiresPayment:  row.ChargePolicy != 0,
	}, nil
}

// GetCardDetails calls mode=get_card_details and retries indefinitely, with
// exponential backoff, on transient failure per §7 -- the machine must
// never grant access on missing data. retryablehttp's own RetryMax only
// bounds a single attempt's transport-level blips, so the outer reconnect
// loop here mirrors the teacher's watchAndAnnounce loop in
// cmd/gobfd-exabgp-bridge/main.go: retry until success or ctx cancellation,
// doubling the wait up to a cap.
func (c *HTTPClient) GetCardDetails(ctx context.Context, cardID, equipmentTypeID int, profile fsm.EquipmentProfile) (fsm.CardDetails, error) {
	params := url.Values{
		"mode":         {"get_card_details"},
		"card_id":      {strconv.Itoa(cardID)},
		"equipment_id": {strconv.Itoa(equipmentTypeID)},
	}

	wait := c.cardRetryWait
	maxWait := c.cardRetryWaitMax

	for {
		resp, err := c.do(c.retrying, ctx, http.MethodGet, params)
		if err == nil && resp.StatusCode == http.StatusOK {
			defer resp.Body.Close()
			return decodeCardDetails(resp, profile)
		}
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			c.logger.Warn("get_card_details transient failure, retrying", "error", err, "wait", wait)
		} else {
			c.logger.Warn("get_card_details non-200 response, retrying", "status", resp.StatusCode, "wait", wait)
		}

		select {
		case <-ctx.Done():
			return fsm.CardDetails{CardType: fsm.CardInvalid}, fmt.Errorf("%w: %w", ErrTransient, ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}

func decodeCardDetails(resp *http.Response, profile fsm.EquipmentProfile) (fsm.CardDetails, error) {
	var rows []struct {
		UserRole   *jsonInt  `json:"user_role"`
		CardType   *jsonInt  `json:"card_type"`
		UserActive *jsonInt  `json:"user_active"`
		UserAuth   jsonInt   `json:"user_auth"`
		Balance    jsonFloat `json:"user_balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fsm.CardDetails{}, fmt.Errorf("decode get_card_details response: %w", err)
	}
	if len(rows) == 0 {
		return fsm.CardDetails{CardType: fsm.CardInvalid}, nil
	}

	row := rows[0]

	userRole := 0
	if row.UserRole != nil {
		userRole = int(*row.UserRole)
	}

	cardType := fsm.CardInvalid
	if row.CardType != nil {
		cardType = fsm.CardType(int(*row.CardType))
	}

	active := row.UserActive != nil && int(*row.UserActive) == 1
	authorized := fsm.Authorized(profile, active, int(row.UserAuth) != 0, float64(row.Balance))

	return fsm.CardDetails{
		UserIsAuthorized:   authorized,
		CardType:           cardType,
		UserAuthorityLevel: userRole,
	}, nil
}

// GetUser calls mode=get_user, matching Database.get_user.
func (c *HTTPClient) GetUser(ctx context.Context, cardID int) (string, string, error) {
	params := url.Values{"mode": {"get_user"}, "card_id": {strconv.Itoa(cardID)}}
	resp, err := c.do(c.retrying, ctx, http.MethodGet, params)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("backend API error", "mode", "get_user")
		return "", "", nil
	}

	var rows []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return "", "", fmt.Errorf("decode get_user response: %w", err)
	}
	if len(rows) == 0 {
		return "", "", nil
	}
	return rows[0].Name, rows[0].Email, nil
}

// GetEquipmentName calls mode=get_equipment_name, matching
// Database.get_equipment_name. A non-200 response returns "Unknown".
func (c *HTTPClient) GetEquipmentName(ctx context.Context, equipmentID int) (string, error) {
	params := url.Values{"mode": {"get_equipment_name"}, "equipment_id": {strconv.Itoa(equipmentID)}}
	resp, err := c.do(c.retrying, ctx, http.MethodGet, params)
	if err != nil {
		return "Unknown", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("backend API error", "mode", "get_equipment_name")
		return "Unknown", nil
	}

	var rows []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return "Unknown", fmt.Errorf("decode get_equipment_name response: %w", err)
	}
	if len(rows) == 0 {
		return "Unknown", nil
	}
	return rows[0].Name, nil
}

// LogStartedStatus calls mode=log_started_status.
func (c *HTTPClient) LogStartedStatus(ctx context.Context, equipmentID int) error {
	return c.fireAndLog(ctx, "log_started_status", url.Values{
		"mode":         {"log_started_status"},
		"equipment_id": {strconv.Itoa(equipmentID)},
	})
}

// LogShutdownStatus calls mode=log_shutdown_status.
func (c *HTTPClient) LogShutdownStatus(ctx context.Context, equipmentID, cardID int) error {
	return c.fireAndLog(ctx, "log_shutdown_status", url.Values{
		"mode":         {"log_shutdown_status"},
		"equipment_id": {strconv.Itoa(equipmentID)},
		"card_id":      {strconv.Itoa(cardID)},
	})
}

// LogAccessAttempt calls mode=log_access_attempt.
func (c *HTTPClient) LogAccessAttempt(ctx context.Context, cardID, equipmentID int, successful bool) error {
	return c.fireAndLog(ctx, "log_access_attempt", url.Values{
		"mode":         {"log_access_attempt"},
		"card_id":      {strconv.Itoa(cardID)},
		"equipment_id": {strconv.Itoa(equipmentID)},
		"successful":   {strconv.Itoa(boolToInt(successful))},
	})
}

// LogAccessCompletion calls mode=log_access_completion.
func (c *HTTPClient) LogAccessCompletion(ctx context.Context, cardID, equipmentID int) error {
	return c.fireAndLog(ctx, "log_access_completion", url.Values{
		"mode":         {"log_access_completion"},
		"card_id":      {strconv.Itoa(cardID)},
		"equipment_id": {strconv.Itoa(equipmentID)},
	})
}

// RecordIP calls mode=record_ip, matching Database.record_ip.
func (c *HTTPClient) RecordIP(ctx context.Context, equipmentID int, ip string) error {
	return c.fireAndLog(ctx, "record_ip", url.Values{
		"mode":         {"record_ip"},
		"equipment_id": {strconv.Itoa(equipmentID)},
		"ip_address":   {ip},
	})
}

// fireAndLog POSTs a logging-only request and, per §7, logs and drops any
// failure rather than propagating it -- these calls never block the FSM.
func (c *HTTPClient) fireAndLog(ctx context.Context, mode string, params url.Values) error {
	resp, err := c.do(c.retrying, ctx, http.MethodPost, params)
	if err != nil {
		c.logger.Error("backend API error", "mode", mode, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("backend API error", "mode", mode, "status", resp.StatusCode)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// jsonInt unmarshals a JSON number that the backend may encode as either a
// number or a numeric string.
type jsonInt int

func (n *jsonInt) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*n = jsonInt(int(v))
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse numeric string %q: %w", v, err)
		}
		*n = jsonInt(i)
	case nil:
		*n = 0
	default:
		return fmt.Errorf("unsupported JSON type %T for jsonInt", raw)
	}
	return nil
}

// jsonFloat unmarshals a JSON number that the backend may encode as either
// a number or a numeric string (user_balance is returned as a string by
// the reference backend).
type jsonFloat float64

func (n *jsonFloat) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*n = jsonFloat(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse numeric string %q: %w", v, err)
		}
		*n = jsonFloat(f)
	case nil:
		*n = 0
	default:
		return fmt.Errorf("unsupported JSON type %T for jsonFloat", raw)
	}
	return nil
}
