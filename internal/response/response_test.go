package response

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/ingest-gateway/internal/model"
)

var ev = model.IngestEvent{ID: "01J0000000000000000000000A", DestinationID: "orders"}

func TestOK(t *testing.T) {
	before := time.Now().UTC()
	env := OK(ev, http.StatusAccepted)

	assert.Equal(t, "orders", env.DestinationID)
	assert.Equal(t, ev.ID, env.ID)
	assert.Equal(t, http.StatusAccepted, env.Status)
	assert.Equal(t, "Accepted", env.Message)
	assert.Empty(t, env.Error)
	assert.False(t, env.Timestamp.Before(before))
}

func TestError(t *testing.T) {
	env := Error(ev, http.StatusNotFound, "Endpoint with endpointId = 'orders' does not exist.")

	assert.Equal(t, http.StatusNotFound, env.Status)
	assert.Equal(t, "Endpoint with endpointId = 'orders' does not exist.", env.Message)
	assert.Equal(t, "Not Found", env.Error)
}

func TestEnvelopeJSON(t *testing.T) {
	raw, err := json.Marshal(OK(ev, http.StatusOK))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.ElementsMatch(t, []string{"destinationId", "id", "timestamp", "status", "message"}, keys(fields))

	raw, err = json.Marshal(Error(ev, http.StatusInternalServerError, "boom"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "Internal Server Error", fields["error"])
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
