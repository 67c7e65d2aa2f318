package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueKeepsOrderAndUniqueIDs(t *testing.T) {
	q := NewQueue(10)

	first := q.Enqueue("Adding Mug…", false)
	second := q.Enqueue("Added Mug", false)
	third := q.Enqueue("Could not add Bowl", true)

	pending := q.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{pending[0].ID, pending[1].ID, pending[2].ID})
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, pending[2].IsError)
	assert.False(t, pending[0].CreatedAt.IsZero())
}

func TestAcknowledgeRemovesOnlyThatMessage(t *testing.T) {
	q := NewQueue(10)
	a := q.Enqueue("a", false)
	b := q.Enqueue("b", false)
	c := q.Enqueue("c", true)

	assert.True(t, q.Acknowledge(b.ID))
	assert.False(t, q.Acknowledge(b.ID))

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, c.ID, pending[1].ID)
}

func TestCapacityDropsOldest(t *testing.T) {
	q := NewQueue(2)
	q.Enqueue("one", false)
	q.Enqueue("two", false)
	q.Enqueue("three", false)

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "two", pending[0].Text)
	assert.Equal(t, "three", pending[1].Text)
}

func TestPendingReturnsCopy(t *testing.T) {
	q := NewQueue(0)
	q.Enqueue("one", false)

	pending := q.Pending()
	pending[0].Text = "mutated"
	assert.Equal(t, "one", q.Pending()[0].Text)
	assert.Len(t, q.Pending(), 1)
}
