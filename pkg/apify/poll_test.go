package apify

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	getRunFunc func(ctx context.Context, id string) (*Run, error)
}

func (m *mockClient) StartRun(context.Context, string, any, RunOptions) (*Run, error) {
	return nil, nil
}

func (m *mockClient) GetRun(ctx context.Context, id string) (*Run, error) {
	return m.getRunFunc(ctx, id)
}

func (m *mockClient) GetDatasetItems(context.Context, string, int) ([]json.RawMessage, error) {
	return nil, nil
}

func (m *mockClient) AbortRun(context.Context, string) (*Run, error) {
	return nil, nil
}

func TestPollRun_CompletesImmediately(t *testing.T) {
	mock := &mockClient{getRunFunc: func(context.Context, string) (*Run, error) {
		return &Run{ID: "run-1", Status: StatusSucceeded, DefaultDatasetID: "ds-1"}, nil
	}}

	run, err := PollRun(context.Background(), mock, "run-1", WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "ds-1", run.DefaultDatasetID)
}

func TestPollRun_CompletesAfterRetries(t *testing.T) {
	var calls atomic.Int32
	mock := &mockClient{getRunFunc: func(context.Context, string) (*Run, error) {
		if calls.Add(1) < 3 {
			return &Run{Status: StatusRunning}, nil
		}
		return &Run{Status: StatusSucceeded}, nil
	}}

	run, err := PollRun(context.Background(), mock, "run-1", WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	assert.True(t, run.Succeeded())
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollRun_FailedRunIsReturned(t *testing.T) {
	mock := &mockClient{getRunFunc: func(context.Context, string) (*Run, error) {
		return &Run{Status: StatusFailed}, nil
	}}

	run, err := PollRun(context.Background(), mock, "run-1", WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	assert.False(t, run.Succeeded())
}

func TestPollRun_Bounded(t *testing.T) {
	var calls atomic.Int32
	mock := &mockClient{getRunFunc: func(context.Context, string) (*Run, error) {
		calls.Add(1)
		return &Run{Status: StatusRunning}, nil
	}}

	run, err := PollRun(context.Background(), mock, "run-1",
		WithPollInterval(time.Millisecond), WithMaxPolls(4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollLimit))
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, int32(4), calls.Load())
}

func TestPollRun_ClientError(t *testing.T) {
	mock := &mockClient{getRunFunc: func(context.Context, string) (*Run, error) {
		return nil, &APIError{StatusCode: 500, Body: "boom"}
	}}

	_, err := PollRun(context.Background(), mock, "run-1", WithPollInterval(time.Millisecond))
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
}

func TestPollRun_ContextCancelled(t *testing.T) {
	mock := &mockClient{getRunFunc: func(context.Context, string) (*Run, error) {
		return &Run{Status: StatusRunning}, nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := PollRun(ctx, mock, "run-1", WithPollInterval(5*time.Millisecond), WithMaxPolls(1000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}
