package plan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsMismatchedLengths(t *testing.T) {
	_, err := New([]string{"a", "b"}, []Status{StatusOpen})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = New([]string{"a"}, []Status{"pending"})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestAdvance_FlipsFirstOpenOnly(t *testing.T) {
	p := Open("a", "b", "c")

	p1, exhausted := p.Advance()
	assert.False(t, exhausted)
	assert.Equal(t, []Status{StatusDone, StatusOpen, StatusOpen}, p1.Statuses())
	// original untouched
	assert.Equal(t, []Status{StatusOpen, StatusOpen, StatusOpen}, p.Statuses())

	p2, _ := p1.Advance()
	p3, exhausted := p2.Advance()
	assert.True(t, exhausted)
	assert.False(t, p3.HasOpen())
	assert.Equal(t, 3, p3.Len())

	p4, exhausted := p3.Advance()
	assert.True(t, exhausted)
	assert.Equal(t, p3.Statuses(), p4.Statuses())
}

func TestAdvance_SkipsAlreadyDone(t *testing.T) {
	p, err := New([]string{"a", "b", "c"}, []Status{StatusDone, StatusOpen, StatusOpen})
	require.NoError(t, err)

	i, task, ok := p.FirstOpen()
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, "b", task)

	next, _ := p.Advance()
	assert.Equal(t, []Status{StatusDone, StatusDone, StatusOpen}, next.Statuses())
}

func TestNormalize_Overflow(t *testing.T) {
	tasks := []string{"1", "2", "3", "4", "5", "6"}
	statuses := []Status{StatusOpen, StatusOpen, StatusOpen, StatusOpen, StatusOpen, StatusOpen}

	p, over, err := Normalize(tasks, statuses, 5, "revised request")
	require.NoError(t, err)
	assert.True(t, over)
	assert.Equal(t, []string{"revised request"}, p.Tasks())
	assert.Equal(t, []Status{StatusOpen}, p.Statuses())

	p, over, err = Normalize(tasks[:5], statuses[:5], 5, "revised request")
	require.NoError(t, err)
	assert.False(t, over)
	assert.Equal(t, 5, p.Len())
}

func TestJSON_StorageForm(t *testing.T) {
	p, err := New([]string{"find papers", "summarize"}, []Status{StatusDone, StatusOpen})
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"plan":["find papers","summarize"],"plan_status":["done","open"]}`, string(data))

	var back Plan
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back)

	err = json.Unmarshal([]byte(`{"plan":["a"],"plan_status":[]}`), &back)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestSummary(t *testing.T) {
	p, _ := New([]string{"a", "b"}, []Status{StatusDone, StatusOpen})
	assert.Equal(t, "- [x] a\n- [ ] b\n", p.Summary())
}
