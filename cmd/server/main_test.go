package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/server/handlers"
)

func TestTokenCommand(t *testing.T) {
	var out, info bytes.Buffer
	root := rootCommand()
	root.SetOut(&out)
	root.SetErr(&info)
	root.SetArgs([]string{"token", "tablet-1", "--jwt-secret", "s3cret", "--ttl", "2h"})

	require.NoError(t, root.ExecuteContext(context.Background()))

	token := strings.TrimSpace(out.String())
	claims, err := handlers.ValidateAccessToken(handlers.JWTConfig{Secret: []byte("s3cret")}, token)
	require.NoError(t, err)
	assert.Equal(t, "tablet-1", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), claims.ExpiresAt.Time, time.Minute)
	assert.Contains(t, info.String(), "Expires")
}

func TestTokenCommand_NoSecret(t *testing.T) {
	root := rootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token", "tablet-1"})

	err := root.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "jwt secret is not configured")
}
