//go:build unix

package agentpool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartProcessEchoesInputViaPty(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := StartProcess(ctx, "cat", nil, "", nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Write([]byte("hello-agentpool\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(p.Output(), "hello-agentpool")
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, p.Alive())
}

func TestProcessCloseFreesResourcesAndReportsDead(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := StartProcess(ctx, "cat", nil, "", nil)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.False(t, p.Alive())

	// Closing twice must not block or panic.
	require.NoError(t, p.Close())
}

func TestStartProcessRejectsEmptyCommand(t *testing.T) {
	_, err := StartProcess(context.Background(), "", nil, "", nil)
	require.Error(t, err)
}
