package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/category"
	"github.com/project-ultron/sentinel/internal/config"
	"github.com/project-ultron/sentinel/internal/store"
)

type fakeSource struct {
	pending  []store.PendingAlert
	listErr  error
	stamped  []int64
	stampErr error
}

func (f *fakeSource) PendingAlerts(ctx context.Context) ([]store.PendingAlert, error) {
	return f.pending, f.listErr
}

func (f *fakeSource) MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	if f.stampErr != nil {
		return false, f.stampErr
	}
	f.stamped = append(f.stamped, id)
	return true, nil
}

type fakeNotifier struct {
	sent    []Alert
	failFor map[int64]error
}

func (f *fakeNotifier) Notify(ctx context.Context, alert Alert) error {
	if err := f.failFor[alert.Result.ID]; err != nil {
		return err
	}
	f.sent = append(f.sent, alert)
	return nil
}

func pendingAlert(id int64, email string) store.PendingAlert {
	return store.PendingAlert{
		Result: analysis.Result{
			ID:             id,
			SubscriptionID: 1,
			Category:       category.Deforestation,
			Status:         "success",
			AlertTriggered: true,
			CreatedAt:      time.Now().UTC(),
		},
		SubscriptionName: "Amazon Basin",
		Email:            email,
		UserName:         "Ana",
	}
}

func TestSweepDeliversAndStamps(t *testing.T) {
	src := &fakeSource{pending: []store.PendingAlert{
		pendingAlert(1, "ana@example.com"),
		pendingAlert(2, "ana@example.com"),
	}}
	n := &fakeNotifier{}

	sent, err := NewSweeper(src, n).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, n.sent, 2)
	assert.Equal(t, []int64{1, 2}, src.stamped)
	assert.Equal(t, "Amazon Basin", n.sent[0].SubscriptionName)
}

func TestSweepSkipsFailedDeliveries(t *testing.T) {
	src := &fakeSource{pending: []store.PendingAlert{
		pendingAlert(1, "ana@example.com"),
		pendingAlert(2, "ana@example.com"),
	}}
	n := &fakeNotifier{failFor: map[int64]error{1: errors.New("smtp refused")}}

	sent, err := NewSweeper(src, n).Sweep(context.Background())
	require.NoError(t, err, "one bad delivery must not abort the sweep")
	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{2}, src.stamped, "failed delivery stays pending for the next sweep")
}

func TestSweepListFailure(t *testing.T) {
	src := &fakeSource{listErr: errors.New("db down")}

	sent, err := NewSweeper(src, &fakeNotifier{}).Sweep(context.Background())
	require.Error(t, err)
	assert.Zero(t, sent)
}

func TestSweepEmptyQueue(t *testing.T) {
	src := &fakeSource{}

	sent, err := NewSweeper(src, &fakeNotifier{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestComposeMessage(t *testing.T) {
	val := -0.25
	thresh := -0.1
	alert := pendingAlert(1, "ana@example.com")
	alert.Result.CalculatedValue = &val
	alert.Result.ThresholdValue = &thresh

	msg := string(composeMessage("sentinel@example.com", Alert{
		Result:           alert.Result,
		SubscriptionName: alert.SubscriptionName,
		Email:            alert.Email,
		UserName:         alert.UserName,
	}, "https://dash.example.com"))

	assert.Contains(t, msg, "To: ana@example.com")
	assert.Contains(t, msg, "Subject: Environmental alert: DEFORESTATION in Amazon Basin")
	assert.Contains(t, msg, "Hello Ana")
	assert.Contains(t, msg, "Measured value: -0.25")
	assert.Contains(t, msg, "Alert threshold: -0.1")
	assert.Contains(t, msg, "https://dash.example.com")
}

func testSMTPConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "sentinel@example.com",
	}
}

func TestSMTPNotifierRequiresRecipient(t *testing.T) {
	n := NewSMTP(testSMTPConfig())
	err := n.Notify(context.Background(), Alert{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipient")
}

func TestSMTPNotifierSends(t *testing.T) {
	n := NewSMTP(testSMTPConfig())

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	alert := Alert{
		Result:           pendingAlert(1, "ana@example.com").Result,
		SubscriptionName: "Amazon Basin",
		Email:            "ana@example.com",
	}
	require.NoError(t, n.Notify(context.Background(), alert))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "sentinel@example.com", gotFrom)
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Amazon Basin")
}

func TestSMTPNotifierSendFailure(t *testing.T) {
	n := NewSMTP(testSMTPConfig())
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	alert := Alert{Result: pendingAlert(1, "ana@example.com").Result, Email: "ana@example.com"}
	err := n.Notify(context.Background(), alert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
