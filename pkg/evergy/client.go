package evergy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jameshartig/evergyd/pkg/common"
	"github.com/jameshartig/evergyd/pkg/log"
	"github.com/jameshartig/evergyd/pkg/types"
)

const (
	portalBaseURL = "https://www.evergy.com"

	logoutPath = "/logout"

	// the selector query string is part of the observed wire contract, so
	// it stays verbatim instead of going through url.Values
	accountSelectorPath = "/sc-api/account/getaccountpremiseselector?isWidgetPage=false&hasNoSelector=false"
)

// isoDateTimeFormat is how the portal expects report dates: ISO-8601 with
// no zone suffix.
const isoDateTimeFormat = "2006-01-02T15:04:05"

// Client is an authenticated session against the Evergy consumer portal.
// One Client serves one credential pair. Operations are serialized by an
// internal mutex: the login flow threads single-use identifiers between
// requests, so calls never interleave.
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration

	mu            sync.Mutex
	client        *http.Client
	loggedIn      bool
	accountNumber string
	premiseID     string
	dashboard     json.RawMessage
}

// NewClient returns a Client for the given portal credentials. Nothing
// touches the network until Login or a usage fetch.
func NewClient(username, password string) *Client {
	return &Client{
		baseURL:  portalBaseURL,
		username: username,
		password: password,
		timeout:  time.Minute,
	}
}

// Login authenticates against the portal and resolves the account context
// used to scope usage queries. It reports true only when both the account
// number and the premise id were resolved. An empty account selector comes
// back as (false, ErrNoAccounts).
func (c *Client) Login(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

// login must be called with c.mu held.
func (c *Client) login(ctx context.Context) (bool, error) {
	// identifiers from an aborted attempt are single use, so every login
	// starts with a fresh session and cookie jar
	c.client = common.BrowserClient(c.timeout)
	c.loggedIn = false
	c.accountNumber = ""
	c.premiseID = ""
	c.dashboard = nil

	h := newLoginHandshake(c.client, c.baseURL)
	if err := h.authenticate(ctx, c.username, c.password); err != nil {
		return false, err
	}

	accounts, err := c.getAccounts(ctx)
	if err != nil {
		return false, err
	}
	if len(accounts) == 0 {
		return false, ErrNoAccounts
	}
	c.accountNumber = accounts[0].AccountNumber.String()

	dashboard, premiseID, err := c.getDashboard(ctx, c.accountNumber)
	if err != nil {
		return false, err
	}
	c.dashboard = dashboard
	c.premiseID = premiseID

	c.loggedIn = c.accountNumber != "" && c.premiseID != ""
	if c.loggedIn {
		log.Ctx(ctx).InfoContext(ctx, "logged in",
			slog.String("username", c.username),
			slog.String("account", c.accountNumber))
	}
	return c.loggedIn, nil
}

// Logout ends the portal session. The server confirms a logout with a
// non-empty page body; anything else is an error. The client can be
// reused afterwards, the next usage call simply logs in again.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	log.Ctx(ctx).InfoContext(ctx, "logging out", slog.String("username", c.username))

	u := c.baseURL + logoutPath
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading logout response: %w", err)
	}
	if len(body) == 0 {
		return errors.New("logout not confirmed: empty response")
	}

	c.client.CloseIdleConnections()
	c.client = nil
	c.loggedIn = false
	return nil
}

// GetUsage fetches usage for the last days days, ending today. The most
// recent rows are usually partial.
func (c *Client) GetUsage(ctx context.Context, days int, interval Interval) (*types.UsageReport, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: got %d days", ErrInvalidCount, days)
	}
	return c.GetUsageRange(ctx, PastDate(days-1), PastDate(0), interval)
}

// GetUsageFrom fetches count intervals of usage starting at start.
func (c *Client) GetUsageFrom(ctx context.Context, start time.Time, count int, interval Interval) (*types.UsageReport, error) {
	end, err := IntervalEnd(start, count, interval)
	if err != nil {
		return nil, err
	}
	return c.GetUsageRange(ctx, start, end, interval)
}

// GetUsageRange fetches usage between start and end inclusive. The range
// is validated before any request goes out, and the client logs itself in
// first if it needs to. A report the portal has no data for comes back as
// (nil, nil).
func (c *Client) GetUsageRange(ctx context.Context, start, end time.Time, interval Interval) (*types.UsageReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if start.After(end) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange,
			start.Format(isoDateTimeFormat), end.Format(isoDateTimeFormat))
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("unknown interval %q", interval)
	}

	if !c.loggedIn {
		if _, err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Set("interval", string(interval))
	params.Set("from", start.Format(isoDateTimeFormat))
	params.Set("to", end.Format(isoDateTimeFormat))
	u := c.baseURL + "/api/report/usage/" + c.premiseID + "?" + params.Encode()

	log.Ctx(ctx).InfoContext(ctx, "fetching usage", slog.String("url", u))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage report request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage report returned status %d", resp.StatusCode)
	}

	var res usageReportResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decoding usage report: %w", err)
	}

	// the portal answers null when it has nothing for the range
	if res.Data == nil {
		return nil, nil
	}
	return &types.UsageReport{Usage: res.Data, Dashboard: c.dashboard}, nil
}

// Account returns the account context cached by the last successful login.
func (c *Client) Account() types.AccountContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.AccountContext{
		AccountNumber: c.accountNumber,
		PremiseID:     c.premiseID,
		LoggedIn:      c.loggedIn,
	}
}

// getAccounts fetches the account selector. The portal returns null when
// the session is not recognized, which decodes to an empty list here.
func (c *Client) getAccounts(ctx context.Context) ([]types.Account, error) {
	u := c.baseURL + accountSelectorPath
	log.Ctx(ctx).DebugContext(ctx, "fetching account selector", slog.String("url", u))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("account selector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("account selector returned status %d", resp.StatusCode)
	}

	var accounts []types.Account
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("decoding account selector: %w", err)
	}
	return accounts, nil
}

// getDashboard fetches the account dashboard, keeping the raw document for
// callers and pulling out the first address's premise id.
func (c *Client) getDashboard(ctx context.Context, accountNumber string) (json.RawMessage, string, error) {
	u := c.baseURL + "/api/account/" + accountNumber + "/dashboard/current"
	log.Ctx(ctx).DebugContext(ctx, "fetching account dashboard", slog.String("url", u))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("dashboard request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("dashboard returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading dashboard response: %w", err)
	}

	var dash dashboardResult
	if err := json.Unmarshal(body, &dash); err != nil {
		return nil, "", fmt.Errorf("decoding dashboard: %w", err)
	}
	if len(dash.Addresses) == 0 {
		return nil, "", fmt.Errorf("dashboard for account %s has no addresses", accountNumber)
	}
	return json.RawMessage(body), dash.Addresses[0].PremiseID.String(), nil
}

type usageReportResult struct {
	Data []types.UsageRecord `json:"data"`
}

type dashboardResult struct {
	Addresses []dashboardAddress `json:"addresses"`
}

type dashboardAddress struct {
	PremiseID json.Number `json:"premiseId"`
}
