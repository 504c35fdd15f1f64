package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalOmitsOptionalFields(t *testing.T) {
	env := Envelope{Payload: json.RawMessage(`{"id":"u1"}`)}

	body, err := env.Marshal()
	require.NoError(t, err)

	assert.JSONEq(t, `{"payload":{"id":"u1"}}`, string(body))
}

func TestWireFieldNames(t *testing.T) {
	env := Envelope{
		Payload:   json.RawMessage(`{}`),
		Aggregate: &Aggregate{EntityID: "u1", Version: 3},
		Meta: &Meta{
			OriginalQueue: "users.signup",
			MaxRetries:    5,
			RetryCount:    2,
			BaseDelay:     1000,
		},
	}

	body, err := env.Marshal()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"payload": {},
		"aggregate": {"entityId": "u1", "version": 3},
		"meta": {"originalQueue": "users.signup", "maxRetries": 5, "retryCount": 2, "baseDelay": 1000}
	}`, string(body))
}

func TestUnmarshalFirstDelivery(t *testing.T) {
	env, err := Unmarshal([]byte(`{"payload":{"id":"u1"},"aggregate":{"entityId":"u1","version":1}}`))
	require.NoError(t, err)

	assert.Nil(t, env.Meta)
	require.NotNil(t, env.Aggregate)
	assert.Equal(t, "u1", env.Aggregate.EntityID)
	assert.Equal(t, int64(1), env.Aggregate.Version)
}

func TestUnmarshalRejectsInvalidBody(t *testing.T) {
	_, err := Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}
