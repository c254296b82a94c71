package tool

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestd/internal/config"
)

func TestInvokerFunc(t *testing.T) {
	var gotServer, gotAction string
	inv := InvokerFunc(func(ctx context.Context, serverID, action string, args map[string]any, timeout time.Duration) (Result, error) {
		gotServer, gotAction = serverID, action
		return Result{Success: true, Output: "ok"}, nil
	})

	res, err := inv.Invoke(context.Background(), "kubernetes", "apply_deployment", nil, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "kubernetes", gotServer)
	assert.Equal(t, "apply_deployment", gotAction)
}

func TestMCPClient_Invoke_UnknownServer(t *testing.T) {
	client := NewMCPClient(nil, 0, 0, nil)
	_, err := client.Invoke(context.Background(), "ghost", "anything", nil, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerUnknown)
}

func TestMCPClient_Sources_EmptyBeforeConnect(t *testing.T) {
	client := NewMCPClient([]config.ToolServerConfig{
		{Name: "kubernetes", Command: "kubernetes-mcp"},
	}, 0, 0, nil)
	assert.Empty(t, client.Sources())
	assert.NoError(t, client.Close())
}

func TestContentText(t *testing.T) {
	text := contentText([]mcp.Content{
		&mcp.TextContent{Text: "line one"},
		&mcp.TextContent{Text: "line two"},
	})
	assert.Equal(t, "line one\nline two", text)

	assert.Empty(t, contentText(nil))
}

func TestSchemaToMap(t *testing.T) {
	assert.Nil(t, schemaToMap(nil))

	out := schemaToMap(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	})
	require.NotNil(t, out)
	assert.Equal(t, "object", out["type"])
}
