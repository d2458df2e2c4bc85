package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/lib/smtp"
	"github.com/magabrotheeeer/chatgate/internal/models"
)

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect(ctx context.Context) (smtp.Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(smtp.Client), args.Error(1)
}

func (m *MockTransport) Sender() string {
	return m.Called().String(0)
}

type MockSMTPClient struct {
	mock.Mock
}

func (m *MockSMTPClient) Mail(from string) error { return m.Called(from).Error(0) }
func (m *MockSMTPClient) Rcpt(to string) error   { return m.Called(to).Error(0) }
func (m *MockSMTPClient) Quit() error            { return m.Called().Error(0) }
func (m *MockSMTPClient) Close() error           { return m.Called().Error(0) }

func (m *MockSMTPClient) Data() (io.WriteCloser, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func event(t *testing.T, typ string) []byte {
	t.Helper()
	body, err := json.Marshal(models.OrderEvent{
		Type: typ,
		Order: models.Order{
			ID:        "ORDER_20250310093015_01234567_PRO",
			Username:  "alice",
			Email:     "alice@example.com",
			Plan:      models.PlanPro,
			Period:    models.PeriodMonthly,
			Amount:    50,
			Currency:  "USD",
			CreatedAt: time.Date(2025, 3, 10, 9, 30, 15, 0, time.UTC),
			Notes:     "paid via transfer",
		},
	})
	require.NoError(t, err)
	return body
}

// expectDelivery настраивает успешную отправку одного письма на адрес to.
func expectDelivery(tr *MockTransport, to string) *bufferCloser {
	client := new(MockSMTPClient)
	w := &bufferCloser{}
	tr.On("Sender").Return("bot@example.com")
	tr.On("Connect", mock.Anything).Return(client, nil).Once()
	client.On("Mail", "bot@example.com").Return(nil).Once()
	client.On("Rcpt", to).Return(nil).Once()
	client.On("Data").Return(w, nil).Once()
	client.On("Quit").Return(nil).Once()
	client.On("Close").Return(nil).Once()
	return w
}

func TestHandleReview(t *testing.T) {
	tr := new(MockTransport)
	w := expectDelivery(tr, "ops@example.com")

	svc := New(tr, "ops@example.com", sl.Discard())
	require.NoError(t, svc.HandleReview(context.Background(), event(t, models.OrderEventSubmitted)))

	tr.AssertExpectations(t)
	assert.True(t, w.closed)
	mail := w.String()
	assert.Contains(t, mail, "To: ops@example.com")
	assert.Contains(t, mail, "Subject: New order to review: ORDER_20250310093015_01234567_PRO")
	assert.Contains(t, mail, "alice <alice@example.com>")
	assert.Contains(t, mail, "50.00 USD")
}

func TestHandleReview_Skips(t *testing.T) {
	tr := new(MockTransport)

	assert.NoError(t, New(tr, "ops@example.com", sl.Discard()).
		HandleReview(context.Background(), event(t, models.OrderEventApproved)))
	assert.NoError(t, New(tr, "", sl.Discard()).
		HandleReview(context.Background(), event(t, models.OrderEventSubmitted)))

	tr.AssertNotCalled(t, "Connect", mock.Anything)

	err := New(tr, "ops@example.com", sl.Discard()).HandleReview(context.Background(), []byte("invalid json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error unmarshalling message")
}

func TestHandleResult(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		subject string
	}{
		{name: "approved", typ: models.OrderEventApproved, subject: "Subject: Your pro plan is active"},
		{name: "rejected", typ: models.OrderEventRejected, subject: "Subject: Your order ORDER_20250310093015_01234567_PRO was declined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := new(MockTransport)
			w := expectDelivery(tr, "alice@example.com")

			require.NoError(t, New(tr, "ops@example.com", sl.Discard()).HandleResult(context.Background(), event(t, tt.typ)))
			tr.AssertExpectations(t)
			assert.Contains(t, w.String(), tt.subject)
			assert.Contains(t, w.String(), "Notes: paid via transfer")
		})
	}

	err := New(new(MockTransport), "", sl.Discard()).HandleResult(context.Background(), event(t, models.OrderEventSubmitted))
	assert.ErrorIs(t, err, ErrUnexpectedEvent)
}

func TestSendEmail_SMTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*MockTransport)
		errMsg string
	}{
		{
			name: "connect error",
			setup: func(tr *MockTransport) {
				tr.On("Sender").Return("bot@example.com")
				tr.On("Connect", mock.Anything).Return(nil, errors.New("connection error")).Once()
			},
			errMsg: "connection error",
		},
		{
			name: "mail error",
			setup: func(tr *MockTransport) {
				client := new(MockSMTPClient)
				tr.On("Sender").Return("bot@example.com")
				tr.On("Connect", mock.Anything).Return(client, nil).Once()
				client.On("Mail", "bot@example.com").Return(errors.New("mail error")).Once()
				client.On("Close").Return(nil).Once()
			},
			errMsg: "mail error",
		},
		{
			name: "data error",
			setup: func(tr *MockTransport) {
				client := new(MockSMTPClient)
				tr.On("Sender").Return("bot@example.com")
				tr.On("Connect", mock.Anything).Return(client, nil).Once()
				client.On("Mail", "bot@example.com").Return(nil).Once()
				client.On("Rcpt", "alice@example.com").Return(nil).Once()
				client.On("Data").Return(nil, errors.New("data error")).Once()
				client.On("Close").Return(nil).Once()
			},
			errMsg: "data error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := new(MockTransport)
			tt.setup(tr)
			err := New(tr, "ops@example.com", sl.Discard()).HandleResult(context.Background(), event(t, models.OrderEventApproved))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			tr.AssertExpectations(t)
		})
	}
}
