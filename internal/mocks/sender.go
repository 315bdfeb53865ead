package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/phrazzld/unwrap-qr/internal/actor"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

// TestifyMockSender is a mock of task.Sender for use with testify/mock.
//
// When the expectation returns a non-empty id and a nil error, the mock
// invokes the register hook with that id before returning, the way the
// actor does.
type TestifyMockSender struct {
	mock.Mock
}

// Send is a mock implementation of task.Sender.Send
func (m *TestifyMockSender) Send(ctx context.Context, body []byte, register actor.RegisterFunc) (protocol.CorrelationID, error) {
	args := m.Called(ctx, body, register)

	id, _ := args.Get(0).(protocol.CorrelationID)
	err := args.Error(1)
	if err == nil && id != "" && register != nil {
		if regErr := register(id); regErr != nil {
			return id, regErr
		}
	}
	return id, err
}
