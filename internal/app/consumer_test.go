package app

import (
	"context"
	"errors"
	"testing"

	"github.com/suntouch/lifecycle-service/internal/domain"
)

func TestInboundMessageConsumerHandleMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		findErr error
		wantAck bool
	}{
		{
			name:    "valid event is acked",
			body:    `{"phone":"0501234567","text":"hi"}`,
			wantAck: true,
		},
		{
			name:    "malformed json is dropped",
			body:    `{not json`,
			wantAck: true,
		},
		{
			name:    "missing phone is dropped",
			body:    `{"text":"hi"}`,
			wantAck: true,
		},
		{
			name:    "repository outage requeues",
			body:    `{"phone":"0501234567","text":"hi"}`,
			findErr: errors.New("connection refused"),
			wantAck: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newLifecycleRepoStub()
			var inner interface{ HandleMessage([]byte) bool }
			if tt.findErr != nil {
				svc := NewService(&failingLookupRepo{lifecycleRepoStub: repo, err: tt.findErr}, &messengerStub{}, &publisherStub{}, nil, "972", 90, Links{})
				inner = NewInboundMessageConsumer(svc)
			} else {
				inner = NewInboundMessageConsumer(newTestService(repo, &messengerStub{}, &publisherStub{}, nil))
			}

			if got := inner.HandleMessage([]byte(tt.body)); got != tt.wantAck {
				t.Fatalf("expected ack=%t, got %t", tt.wantAck, got)
			}
		})
	}
}

// failingLookupRepo simulates a database outage on the phone lookup path.
type failingLookupRepo struct {
	*lifecycleRepoStub
	err error
}

func (s *failingLookupRepo) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return nil, s.err
}
