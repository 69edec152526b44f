package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedCopyLeavesInputAlone(t *testing.T) {
	in := []string{"c", "a", "b"}
	out := SortedCopy(in)

	assert.Equal(t, []string{"a", "b", "c"}, out)
	assert.Equal(t, []string{"c", "a", "b"}, in)
	assert.Nil(t, SortedCopy(nil))
}

func TestUniqueStrings(t *testing.T) {
	got := UniqueStrings([]string{"wss://a", "", "wss://b", "wss://a"})
	assert.Equal(t, []string{"wss://a", "wss://b"}, got)
}

func TestTagHelpers(t *testing.T) {
	tags := [][]string{{"e", "root"}, {"p", "alice"}, {"e", "parent"}, {"content-warning"}}

	assert.Equal(t, "root", GetTagValue(tags, "e"))
	assert.Equal(t, []string{"root", "parent"}, GetTagValues(tags, "e"))
	assert.True(t, HasTag(tags, "content-warning"))
	assert.False(t, HasTag(tags, "t"))
	assert.Equal(t, "", GetTagValue(tags, "t"))
}

func TestLimitSlice(t *testing.T) {
	s := []int{1, 2, 3}
	assert.Equal(t, []int{1, 2}, LimitSlice(s, 2))
	assert.Equal(t, s, LimitSlice(s, 0))
	assert.Equal(t, s, LimitSlice(s, 10))
}

func TestHostChecks(t *testing.T) {
	assert.True(t, IsLoopbackHost("localhost"))
	assert.True(t, IsLoopbackHost("127.0.0.5"))
	assert.False(t, IsLoopbackHost("relay.damus.io"))
	assert.True(t, IsInternalHost("printer.local"))
	assert.False(t, IsInternalHost("nos.lol"))
}
