package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "  ", "wabridge", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "url is required")
}

func TestOpenRejectsMalformedURL(t *testing.T) {
	_, err := Open(context.Background(), "not-a-mongo-uri", "", nil)
	require.Error(t, err)
}
