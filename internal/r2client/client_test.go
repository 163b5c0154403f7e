package r2client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/garyellow/igrelay/internal/errors"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		Endpoint:    "https://account.r2.cloudflarestorage.com",
		AccessKeyID: "AKIDEXAMPLE",
		SecretKey:   "secret",
		BucketName:  "igrelay",
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAllFields(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Endpoint: "https://x", BucketName: "b"})
	assert.Error(t, err)
}

func TestPresignGet(t *testing.T) {
	t.Parallel()

	c := testClient(t)
	raw, err := c.PresignGet(context.Background(), "media/abc.mp4", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "account.r2.cloudflarestorage.com", u.Host)
	assert.Equal(t, "/igrelay/media/abc.mp4", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"not found", fmt.Errorf("wrapped: %w", &types.NotFound{}), true},
		{"api code", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"other api error", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}

func TestErrNotFoundMatchesDomainError(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ErrNotFound, domerrors.ErrNotFound)
}

func TestFilterOlder(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	contents := []types.Object{
		{Key: aws.String("media/old"), Size: aws.Int64(10), LastModified: aws.Time(cutoff.Add(-time.Minute))},
		{Key: aws.String("media/edge"), LastModified: aws.Time(cutoff)},
		{Key: aws.String("media/new"), LastModified: aws.Time(cutoff.Add(time.Minute))},
	}

	got := filterOlder(contents, cutoff)
	require.Len(t, got, 1)
	assert.Equal(t, "media/old", got[0].Key)
	assert.Equal(t, int64(10), got[0].Size)
}
