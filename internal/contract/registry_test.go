package contract

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	exec := Execution{Agent: "a11y-auditor", Timeout: 2 * time.Minute, Instructions: []string{"scan", "report"}}
	require.NoError(t, r.Register("audit", Schema{}, auditOutputSchema(), Metadata{Title: "Audit"}, exec))

	c, err := r.Lookup("audit")
	require.NoError(t, err)
	assert.Equal(t, "audit", c.Kind)
	assert.Equal(t, "Audit", c.Metadata.Title)
	assert.Equal(t, 2*time.Minute, c.Execution.Timeout)
	assert.Contains(t, c.Output.Fields, "findings")
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("scan", Schema{}, Schema{}, Metadata{}, Execution{}))

	err := r.Register("scan", Schema{}, Schema{}, Metadata{}, Execution{})
	assert.True(t, errors.Is(err, ErrDuplicateContract))

	assert.ErrorIs(t, r.Register("", Schema{}, Schema{}, Metadata{}, Execution{}), ErrEmptyKind)

	bad := Schema{Fields: map[string]Field{"x": {Type: "nope"}}}
	assert.ErrorIs(t, r.Register("bad", bad, Schema{}, Metadata{}, Execution{}), ErrInvalidSchema)
	assert.ErrorIs(t, r.Register("bad", Schema{}, bad, Metadata{}, Execution{}), ErrInvalidSchema)

	assert.Error(t, r.Register("neg", Schema{}, Schema{}, Metadata{}, Execution{Timeout: -time.Second}))

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, ErrContractNotFound)
	assert.Equal(t, []string{"scan"}, r.Kinds())
}

func TestRegistry_Seal(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", Schema{}, Schema{}, Metadata{}, Execution{}))
	assert.False(t, r.Sealed())

	r.Seal()
	assert.True(t, r.Sealed())
	assert.ErrorIs(t, r.Register("b", Schema{}, Schema{}, Metadata{}, Execution{}), ErrRegistrySealed)

	_, err := r.Lookup("a")
	assert.NoError(t, err, "lookups keep working after seal")
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("k%d", i), Schema{}, Schema{}, Metadata{}, Execution{}))
	}
	r.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Lookup(fmt.Sprintf("k%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Kinds(), 10)
}

func TestAsNumber(t *testing.T) {
	n, ok := AsNumber(int64(7))
	assert.True(t, ok)
	assert.Equal(t, 7.0, n)

	_, ok = AsNumber("7")
	assert.False(t, ok)
}
