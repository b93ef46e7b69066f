package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", KindNotFound.String())
	assert.Equal(t, "NOT_INDEXED", KindNotIndexed.String())
	assert.Equal(t, "EMPTY_REPOSITORY", KindEmptyRepository.String())
	assert.Equal(t, "INTERNAL", KindInternal.String())
}

func TestErrorMessage(t *testing.T) {
	// Given: an internal error wrapping a cause
	err := Internal("load index", io.ErrUnexpectedEOF)

	// Then: message includes kind, message, and cause
	assert.Contains(t, err.Error(), "INTERNAL")
	assert.Contains(t, err.Error(), "load index")
	assert.Contains(t, err.Error(), io.ErrUnexpectedEOF.Error())

	// And: the cause is reachable via errors.Is
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("/missing")))
	assert.True(t, IsNotIndexed(NotIndexed("abc123")))
	assert.True(t, IsEmptyRepository(EmptyRepository("/empty")))

	assert.False(t, IsNotFound(NotIndexed("abc123")))
	assert.False(t, IsNotIndexed(stderrors.New("plain")))
}

func TestKindOfWrappedChain(t *testing.T) {
	// Given: an engine error wrapped by a caller with fmt.Errorf
	inner := NotIndexed("repo-1")
	wrapped := fmt.Errorf("query failed: %w", inner)

	// Then: the kind survives the wrapping
	require.Equal(t, KindNotIndexed, KindOf(wrapped))
	assert.True(t, IsNotIndexed(wrapped))

	// And: plain errors classify as internal
	assert.Equal(t, KindInternal, KindOf(stderrors.New("boom")))
}

func TestIsMatchesByKind(t *testing.T) {
	// Given: two distinct not-found errors
	a := NotFound("/a")
	b := NotFound("/b")

	// Then: errors.Is matches on kind, not message
	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, NotIndexed("x")))
}
