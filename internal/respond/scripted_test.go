package respond

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedInitGreeting(t *testing.T) {
	reply, err := NewScripted().Respond(context.Background(), Request{Init: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", reply.Text)
}

func TestScriptedFallback(t *testing.T) {
	reply, err := NewScripted().Respond(context.Background(), Request{Text: "Why is the sky blue?"})
	require.NoError(t, err)
	assert.Equal(t, "I do not know how to answer that", reply.Text)
	assert.True(t, reply.Fallback)
}

func TestScriptedContentCard(t *testing.T) {
	reply, err := NewScripted().Respond(context.Background(), Request{Text: "cat"})
	require.NoError(t, err)
	assert.Equal(t, "Here is a cat @showcards(cat)", reply.Text)
	assert.Contains(t, reply.Variables, "public-cat")
}

func TestScriptedEcho(t *testing.T) {
	reply, err := NewScripted().Respond(context.Background(), Request{Text: "good morning"})
	require.NoError(t, err)
	assert.Equal(t, "Echo: good morning", reply.Text)
	assert.False(t, reply.Fallback)
}

func TestRouterFallsBackToDefault(t *testing.T) {
	router := NewRouter(map[string]Responder{"scripted": NewScripted()}, "scripted")

	backend, err := router.Route("nope")
	require.NoError(t, err)
	assert.NotNil(t, backend)

	reply, err := router.Respond(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi", reply.Text)

	assert.True(t, router.Has("scripted"))
	assert.False(t, router.Has("nope"))
	assert.Equal(t, []string{"scripted"}, router.Engines())
}

func TestRouterNoBackends(t *testing.T) {
	router := NewRouter(map[string]Responder{}, "scripted")
	_, err := router.Route("scripted")
	require.Error(t, err)
}
