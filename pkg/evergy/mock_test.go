package evergy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPageHTML = `<!DOCTYPE html>
<html>
<body>
<div class="davinci-widget-wrapper"
  data-davinci-company-id="comp-1"
  data-davinci-sk-api-key="sk-key-1"
  data-davinci-api-root="%s/auth"
  data-davinci-policy-id="pol-1"
  data-davinci-post-processing-api="/api/davinci/postprocess"
  data-davinci-datasource-item-id="dsi-1">
</div>
</body>
</html>`

// portalServer is a stand-in for the portal plus its auth hosts. The
// defaults serve one working login flow for user@example.com/hunter2; tests
// tweak fields before driving the flow to break individual steps.
type portalServer struct {
	t  *testing.T
	ts *httptest.Server

	mu         sync.Mutex
	calls      []string
	usageQuery url.Values

	sdkTokenStatus int    // non-zero replaces the sdktoken response status
	submitID       string // overrides the id echoed by the credential step
	submitFlowID   string // overrides the flowId echoed by the credential step
	submitBody     string // replaces the credential step response body entirely
	accounts       string // account selector body
	dashboard      string // dashboard body
	usage          string // usage report body
	logoutBody     string // logout page body
}

func newPortalServer(t *testing.T) *portalServer {
	p := &portalServer{
		t:          t,
		accounts:   `[{"accountNumber": 123456789, "oPowerDomain": "kcpl.opower.com"}]`,
		dashboard:  `{"addresses": [{"premiseId": 987654321, "street": "123 Main St"}]}`,
		usage:      `{"data": null}`,
		logoutBody: "<html>you have been signed out</html>",
	}
	p.ts = httptest.NewServer(http.HandlerFunc(p.handler))
	t.Cleanup(p.ts.Close)
	return p
}

func (p *portalServer) record(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, step)
}

func (p *portalServer) callList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *portalServer) lastUsageQuery() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usageQuery
}

func (p *portalServer) handler(w http.ResponseWriter, r *http.Request) {
	t := p.t
	switch {
	case r.URL.Path == "/log-in":
		p.record("loginPage")
		fmt.Fprintf(w, loginPageHTML, p.ts.URL)

	case r.URL.Path == "/orchestrate-api/v1/company/comp-1/sdktoken":
		p.record("sdkToken")
		assert.Equal(t, "sk-key-1", r.Header.Get("x-sk-api-key"), "sdktoken should send the widget api key")
		if p.sdkTokenStatus != 0 {
			http.Error(w, "denied", p.sdkTokenStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "sdk-token"})

	case r.URL.Path == "/auth/comp-1/davinci/policy/pol-1/start":
		p.record("start")
		assert.Equal(t, "Bearer sdk-token", r.Header.Get("Authorization"), "start should send the sdk token")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "step-1",
			"connectionId":  "conn-1",
			"interactionId": "int-1",
			"flowId":        "flow-1",
		})

	case r.URL.Path == "/auth/comp-1/davinci/connections/conn-1/capabilities/customHTMLTemplate":
		var body struct {
			ID         string                 `json:"id"`
			Parameters map[string]interface{} `json:"parameters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, p.ts.URL, r.Header.Get("Origin"), "capability calls should carry the portal origin")
		// the three customHTMLTemplate calls are told apart by which step
		// id they advance from
		switch body.ID {
		case "step-1":
			p.record("getLoginForm")
			assert.Equal(t, "int-1", r.Header.Get("interactionId"), "form fetch should carry the interaction id")
			json.NewEncoder(w).Encode(map[string]interface{}{"id": "step-2"})
		case "step-2":
			p.record("submit")
			assert.Equal(t, "user@example.com", body.Parameters["username"], "username should be posted")
			assert.Equal(t, "hunter2", body.Parameters["password"], "password should be posted")
			if p.submitBody != "" {
				io.WriteString(w, p.submitBody)
				return
			}
			id, flowID := "step-3", "flow-1"
			if p.submitID != "" {
				id = p.submitID
			}
			if p.submitFlowID != "" {
				flowID = p.submitFlowID
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "flowId": flowID})
		case "step-3":
			p.record("getNewConnectionId")
			json.NewEncoder(w).Encode(map[string]interface{}{"id": "step-4", "connectionId": "conn-2"})
		default:
			http.Error(w, "unexpected step: "+body.ID, 400)
		}

	case r.URL.Path == "/auth/comp-1/davinci/connections/conn-2/capabilities/setCookieWithoutUser":
		var body struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body.ID {
		case "step-4":
			p.record("setCookie")
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "sess-1"})
			json.NewEncoder(w).Encode(map[string]interface{}{"id": "step-5"})
		case "step-5":
			p.record("getNewAccessToken")
			json.NewEncoder(w).Encode(map[string]interface{}{"id": "step-6", "access_token": "final-token"})
		default:
			http.Error(w, "unexpected step: "+body.ID, 400)
		}

	case r.URL.Path == "/api/davinci/postprocess":
		p.record("postProcess")
		var body struct {
			Token            string `json:"Token"`
			DataSourceItemID string `json:"DataSourceItemId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "final-token", body.Token, "postprocess should send the rotated access token")
		assert.Equal(t, "dsi-1", body.DataSourceItemID, "postprocess should send the data source item id")
		json.NewEncoder(w).Encode(map[string]interface{}{})

	case r.URL.Path == "/sc-api/account/getaccountpremiseselector":
		p.record("selector")
		assert.Equal(t, "false", r.URL.Query().Get("isWidgetPage"))
		assert.Equal(t, "false", r.URL.Query().Get("hasNoSelector"))
		io.WriteString(w, p.accounts)

	case strings.HasPrefix(r.URL.Path, "/api/account/") && strings.HasSuffix(r.URL.Path, "/dashboard/current"):
		p.record("dashboard")
		io.WriteString(w, p.dashboard)

	case strings.HasPrefix(r.URL.Path, "/api/report/usage/"):
		p.record("usage")
		p.mu.Lock()
		p.usageQuery = r.URL.Query()
		p.mu.Unlock()
		io.WriteString(w, p.usage)

	case r.URL.Path == "/logout":
		p.record("logout")
		io.WriteString(w, p.logoutBody)

	default:
		http.Error(w, "not found: "+r.URL.Path, 404)
	}
}

// handshakeSteps is the order the login flow hits the portal in.
var handshakeSteps = []string{
	"loginPage", "sdkToken", "start", "getLoginForm", "submit",
	"getNewConnectionId", "setCookie", "getNewAccessToken", "postProcess",
}
