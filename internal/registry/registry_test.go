package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(payload map[string]interface{}) (map[string]interface{}, error) {
	return payload, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	r.Register("noop", noop, Options{})

	entry, ok := r.Get("noop")
	require.True(t, ok)
	assert.Equal(t, "noop", entry.Name)
	assert.NotNil(t, entry.Fn)
}

func TestRegistry_GetMissing(t *testing.T) {
	r := New()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_Has(t *testing.T) {
	r := New()
	assert.False(t, r.Has("noop"))
	r.Register("noop", noop, Options{})
	assert.True(t, r.Has("noop"))
}

func TestRegistry_RegisterTwice_LastWriterWins(t *testing.T) {
	r := New()
	r.Register("noop", func(p map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"v": 1}, nil
	}, Options{})
	r.Register("noop", func(p map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"v": 2}, nil
	}, Options{})

	entry, ok := r.Get("noop")
	require.True(t, ok)
	result, err := entry.Fn(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result["v"])
}

func TestRegistry_Validate_NoneConfigured(t *testing.T) {
	r := New()
	r.Register("noop", noop, Options{})

	valid, _, source := r.Validate("noop", nil)
	assert.True(t, valid)
	assert.Equal(t, SourceNone, source)
}

func TestRegistry_Validate_UnregisteredHandler(t *testing.T) {
	r := New()
	valid, _, source := r.Validate("missing", nil)
	assert.True(t, valid)
	assert.Equal(t, SourceNone, source)
}

func TestRegistry_Validate_WithValidator(t *testing.T) {
	r := New()
	r.Register("send_email", noop, Options{
		Validator: func(payload map[string]interface{}) (bool, string) {
			if _, ok := payload["to"]; !ok {
				return false, "missing 'to'"
			}
			return true, ""
		},
	})

	valid, msg, source := r.Validate("send_email", map[string]interface{}{})
	assert.False(t, valid)
	assert.Equal(t, "missing 'to'", msg)
	assert.Equal(t, SourceValidator, source)

	valid, _, source = r.Validate("send_email", map[string]interface{}{"to": "a@b.com"})
	assert.True(t, valid)
	assert.Equal(t, SourceValidator, source)
}

func TestRegistry_Validate_AutoFromExpectedKeys(t *testing.T) {
	r := New()
	r.Register("send_email", noop, Options{ExpectedKeys: []string{"to", "subject"}})

	valid, msg, source := r.Validate("send_email", map[string]interface{}{"to": "a@b.com"})
	assert.False(t, valid)
	assert.Contains(t, msg, "subject")
	assert.Equal(t, SourceAuto, source)

	valid, _, source = r.Validate("send_email", map[string]interface{}{"to": "a@b.com", "subject": "hi"})
	assert.True(t, valid)
	assert.Equal(t, SourceAuto, source)
}

func TestRegistry_ConcurrentRegisterAndGet(t *testing.T) {
	r := New()
	done := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			r.Register("noop", noop, Options{})
		}
		close(done)
	}()

	for i := 0; i < 1000; i++ {
		r.Get("noop")
	}
	<-done
}
