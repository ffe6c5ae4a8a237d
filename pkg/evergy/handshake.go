package evergy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jameshartig/evergyd/pkg/log"
)

const loginPagePath = "/log-in"

// loginHandshake drives the davinci widget login flow: the ordered HTTP
// exchanges that turn a username/password into a portal session cookie.
// It owns the identifiers the widget threads from step to step and is
// built fresh for every attempt; nothing in here survives a failure.
type loginHandshake struct {
	client     *http.Client
	noRedirect *http.Client
	baseURL    string

	descriptor widgetDescriptor

	accessToken string
	// flowID and interactionID are fixed at startFlow. A later response
	// carrying a different flowId means the widget restarted the flow,
	// which it only does for an unknown username.
	flowID        string
	interactionID string
	connectionID  string
	// stepID is the widget's "id" field: its current position in the flow.
	// Nearly every step overwrites it. It is not a session identifier.
	stepID string
}

func newLoginHandshake(client *http.Client, baseURL string) *loginHandshake {
	// the credential submission must see the raw response rather than a
	// followed redirect, so it goes through a copy of the client that
	// stops at the first response. The copy shares the jar and transport.
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &loginHandshake{
		client:     client,
		noRedirect: &noRedirect,
		baseURL:    baseURL,
	}
}

// getAuthData fetches the login page and extracts the widget descriptor
// that parameterizes the rest of the flow.
func (h *loginHandshake) getAuthData(ctx context.Context) error {
	ctx = log.WithStep(ctx, "getAuthData")
	u := h.baseURL + loginPagePath
	log.Ctx(ctx).DebugContext(ctx, "fetching login page", slog.String("url", u))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return &HandshakeHTTPError{Step: "getAuthData", URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HandshakeHTTPError{Step: "getAuthData", URL: u, StatusCode: resp.StatusCode}
	}

	d, err := parseWidgetDescriptor(resp.Body)
	if err != nil {
		return err
	}
	h.descriptor = d
	return nil
}

// getSdkToken exchanges the widget's API key for a short-lived bearer
// token. The token service lives on the orchestrate-api host next to the
// auth host named in the descriptor.
func (h *loginHandshake) getSdkToken(ctx context.Context) error {
	ctx = log.WithStep(ctx, "getSdkToken")
	u := strings.ReplaceAll(h.descriptor.APIRoot, "auth", "orchestrate-api") +
		"/v1/company/" + h.descriptor.CompanyID + "/sdktoken"
	log.Ctx(ctx).DebugContext(ctx, "exchanging api key for sdk token", slog.String("url", u))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-sk-api-key", h.descriptor.SKAPIKey)

	var res sdkTokenResult
	if err := h.do(h.client, req, "getSdkToken", &res); err != nil {
		return err
	}
	if res.AccessToken == "" {
		return &HandshakeHTTPError{Step: "getSdkToken", URL: u, Err: errors.New("response missing access_token")}
	}
	h.accessToken = res.AccessToken
	return nil
}

// startFlow begins the orchestration flow and captures the identifiers
// every subsequent step depends on.
func (h *loginHandshake) startFlow(ctx context.Context) error {
	ctx = log.WithStep(ctx, "startFlow")
	u := h.descriptor.APIRoot + "/" + h.descriptor.CompanyID +
		"/davinci/policy/" + h.descriptor.PolicyID + "/start"
	log.Ctx(ctx).DebugContext(ctx, "starting davinci flow", slog.String("url", u))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.accessToken)

	var res flowStartResult
	if err := h.do(h.client, req, "startFlow", &res); err != nil {
		return err
	}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"id", res.ID},
		{"connectionId", res.ConnectionID},
		{"interactionId", res.InteractionID},
		{"flowId", res.FlowID},
	} {
		if f.value == "" {
			return &HandshakeHTTPError{Step: "startFlow", URL: u, Err: fmt.Errorf("response missing %s", f.name)}
		}
	}
	h.stepID = res.ID
	h.connectionID = res.ConnectionID
	h.interactionID = res.InteractionID
	h.flowID = res.FlowID
	return nil
}

// getLoginForm advances the flow to the step holding the credential form.
func (h *loginHandshake) getLoginForm(ctx context.Context) error {
	ctx = log.WithStep(ctx, "getLoginForm")
	u := h.templateURL()
	log.Ctx(ctx).DebugContext(ctx, "fetching login form", slog.String("url", u))

	req, err := h.newPostJSONRequest(ctx, u, map[string]interface{}{
		"id":        h.stepID,
		"eventName": "continue",
	})
	if err != nil {
		return err
	}
	req.Header.Set("interactionId", h.interactionID)
	req.Header.Set("Origin", h.baseURL)

	var res flowStepResult
	if err := h.do(h.client, req, "getLoginForm", &res); err != nil {
		return err
	}
	if res.ID == "" {
		return &HandshakeHTTPError{Step: "getLoginForm", URL: u, Err: errors.New("response missing id")}
	}
	h.stepID = res.ID
	return nil
}

// submitLoginForm posts the credentials into the form step. This is the
// only step with business branches: the widget signals an unknown username
// by restarting the flow under a new flowId, and a wrong password by
// refusing to advance the step id.
func (h *loginHandshake) submitLoginForm(ctx context.Context, username, password string) error {
	ctx = log.WithStep(ctx, "submitLoginForm")
	u := h.templateURL()
	log.Ctx(ctx).DebugContext(ctx, "submitting credentials", slog.String("url", u))

	req, err := h.newPostJSONRequest(ctx, u, map[string]interface{}{
		"id": h.stepID,
		"nextEvent": map[string]interface{}{
			"constructType": "skEvent",
			"eventName":     "continue",
			"params":        []string{},
			"eventType":     "post",
			"postProcess":   map[string]interface{}{},
		},
		"parameters": map[string]interface{}{
			"buttonType":  "form-submit",
			"buttonValue": "submit",
			"username":    username,
			"password":    password,
		},
		"eventName": "continue",
	})
	if err != nil {
		return err
	}
	req.Header.Set("Origin", h.baseURL)

	var res flowStepResult
	if err := h.do(h.noRedirect, req, "submitLoginForm", &res); err != nil {
		return err
	}
	// the flowId verdict comes before the step id: a restarted flow means
	// an unknown username even when the response carries nothing else
	if res.FlowID == "" {
		return &HandshakeHTTPError{Step: "submitLoginForm", URL: u, Err: errors.New("response missing flowId")}
	}
	if res.FlowID != h.flowID {
		return &InvalidAuthError{Reason: AuthFailureUnknownUsername}
	}
	if res.ID == "" {
		return &HandshakeHTTPError{Step: "submitLoginForm", URL: u, Err: errors.New("response missing id")}
	}
	if res.ID == h.stepID {
		return &InvalidAuthError{Reason: AuthFailureWrongPassword}
	}
	h.stepID = res.ID
	return nil
}

// getNewConnectionID advances past the credential step, rotating onto the
// connection the rest of the flow runs under.
func (h *loginHandshake) getNewConnectionID(ctx context.Context) error {
	ctx = log.WithStep(ctx, "getNewConnectionId")
	u := h.templateURL()
	log.Ctx(ctx).DebugContext(ctx, "rotating connection id", slog.String("url", u))

	req, err := h.newPostJSONRequest(ctx, u, map[string]interface{}{
		"id":        h.stepID,
		"eventName": "continue",
	})
	if err != nil {
		return err
	}
	req.Header.Set("Origin", h.baseURL)

	var res flowStepResult
	if err := h.do(h.client, req, "getNewConnectionId", &res); err != nil {
		return err
	}
	if res.ID == "" || res.ConnectionID == "" {
		return &HandshakeHTTPError{Step: "getNewConnectionId", URL: u, Err: errors.New("response missing id or connectionId")}
	}
	h.stepID = res.ID
	h.connectionID = res.ConnectionID
	return nil
}

// getNewConnectionCookie completes the rotated connection so the server
// issues its session cookie.
func (h *loginHandshake) getNewConnectionCookie(ctx context.Context) error {
	ctx = log.WithStep(ctx, "getNewConnectionCookie")
	u := h.setCookieURL()
	log.Ctx(ctx).DebugContext(ctx, "requesting session cookie", slog.String("url", u))

	req, err := h.newPostJSONRequest(ctx, u, map[string]interface{}{
		"eventName":  "complete",
		"parameters": map[string]interface{}{},
		"id":         h.stepID,
	})
	if err != nil {
		return err
	}

	var res flowStepResult
	if err := h.do(h.client, req, "getNewConnectionCookie", &res); err != nil {
		return err
	}
	if res.ID == "" {
		return &HandshakeHTTPError{Step: "getNewConnectionCookie", URL: u, Err: errors.New("response missing id")}
	}
	h.stepID = res.ID
	return nil
}

// getNewAccessToken repeats the completion call, which now returns a fresh
// access token bound to the cookie issued a step earlier.
func (h *loginHandshake) getNewAccessToken(ctx context.Context) error {
	ctx = log.WithStep(ctx, "getNewAccessToken")
	u := h.setCookieURL()
	log.Ctx(ctx).DebugContext(ctx, "refreshing access token", slog.String("url", u))

	req, err := h.newPostJSONRequest(ctx, u, map[string]interface{}{
		"eventName":  "complete",
		"parameters": map[string]interface{}{},
		"id":         h.stepID,
	})
	if err != nil {
		return err
	}

	var res flowStepResult
	if err := h.do(h.client, req, "getNewAccessToken", &res); err != nil {
		return err
	}
	if res.ID == "" || res.AccessToken == "" {
		return &HandshakeHTTPError{Step: "getNewAccessToken", URL: u, Err: errors.New("response missing id or access_token")}
	}
	h.stepID = res.ID
	h.accessToken = res.AccessToken
	return nil
}

// postProcess trades the fresh token and the data-source item id for the
// portal's own session cookie, finishing the login.
func (h *loginHandshake) postProcess(ctx context.Context) error {
	ctx = log.WithStep(ctx, "postProcess")
	u := h.baseURL + h.descriptor.PostProcessingPath
	log.Ctx(ctx).DebugContext(ctx, "finalizing portal session", slog.String("url", u))

	req, err := h.newPostJSONRequest(ctx, u, map[string]interface{}{
		"Token":            h.accessToken,
		"DataSourceItemId": h.descriptor.DataSourceItemID,
	})
	if err != nil {
		return err
	}
	return h.do(h.client, req, "postProcess", nil)
}

// authenticate runs the whole flow strictly in order. The identifiers the
// widget hands out are single use, so any failure abandons the attempt and
// a retry must start over with a fresh handshake.
func (h *loginHandshake) authenticate(ctx context.Context, username, password string) error {
	if err := h.getAuthData(ctx); err != nil {
		return err
	}
	if err := h.getSdkToken(ctx); err != nil {
		return err
	}
	if err := h.startFlow(ctx); err != nil {
		return err
	}
	if err := h.getLoginForm(ctx); err != nil {
		return err
	}
	if err := h.submitLoginForm(ctx, username, password); err != nil {
		return err
	}
	if err := h.getNewConnectionID(ctx); err != nil {
		return err
	}
	if err := h.getNewConnectionCookie(ctx); err != nil {
		return err
	}
	if err := h.getNewAccessToken(ctx); err != nil {
		return err
	}
	return h.postProcess(ctx)
}

func (h *loginHandshake) templateURL() string {
	return h.descriptor.APIRoot + "/" + h.descriptor.CompanyID +
		"/davinci/connections/" + h.connectionID + "/capabilities/customHTMLTemplate"
}

func (h *loginHandshake) setCookieURL() string {
	return h.descriptor.APIRoot + "/" + h.descriptor.CompanyID +
		"/davinci/connections/" + h.connectionID + "/capabilities/setCookieWithoutUser"
}

func (h *loginHandshake) newPostJSONRequest(ctx context.Context, rawURL string, data interface{}) (*http.Request, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends the request and decodes the JSON response into dest. Transport
// failures, non-2xx statuses, and undecodable bodies all come back as a
// HandshakeHTTPError tagged with the step.
func (h *loginHandshake) do(client *http.Client, req *http.Request, step string, dest interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return &HandshakeHTTPError{Step: step, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HandshakeHTTPError{Step: step, URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	if dest == nil {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &HandshakeHTTPError{Step: step, URL: req.URL.String(), StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

type sdkTokenResult struct {
	AccessToken string `json:"access_token"`
}

type flowStartResult struct {
	ID            string `json:"id"`
	ConnectionID  string `json:"connectionId"`
	InteractionID string `json:"interactionId"`
	FlowID        string `json:"flowId"`
}

// flowStepResult is the shape shared by the capability responses. Each
// step reads only the fields it needs; the rest are empty on the wire.
type flowStepResult struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
	FlowID       string `json:"flowId"`
	AccessToken  string `json:"access_token"`
}
