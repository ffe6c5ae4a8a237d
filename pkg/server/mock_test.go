package server

import (
	"github.com/jameshartig/evergyd/pkg/evergy"
	"github.com/jameshartig/evergyd/pkg/storage"
	"github.com/jameshartig/evergyd/pkg/types"
)

var testAccount = types.AccountContext{
	AccountNumber: "123456789",
	PremiseID:     "987654321",
	LoggedIn:      true,
}

// triggerRecorder counts poll trigger requests.
type triggerRecorder struct {
	calls int
}

func (t *triggerRecorder) TriggerPoll() {
	t.calls++
}

func newTestServer(client evergy.API, db storage.Database, p PollTrigger) *Server {
	return &Server{
		client:     client,
		storage:    db,
		poller:     p,
		listenAddr: ":8080",
		serverName: "evergyd/test",
	}
}
