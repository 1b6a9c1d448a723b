package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/runner"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(evs ...core.Event) <-chan core.Event {
	ch := make(chan core.Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestStream(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	err := stream(cmd, feed(
		core.Event{RunID: "r", Type: core.EventMessage, Content: "Hi"},
		core.Event{RunID: "r", Type: core.EventFinal, Content: "Hi"},
	))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)

	out.Reset()
	err = stream(cmd, feed(core.Event{RunID: "r", Type: core.EventError, Content: core.GenericErrorMessage}))
	assert.ErrorIs(t, err, runner.ErrRunFailed)
	assert.Contains(t, out.String(), `"type":"error"`)
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"ask", "chat", "resume"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
		assert.NotNil(t, cmd.Flags().Lookup("thread"))
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
