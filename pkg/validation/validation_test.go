package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Node   string `json:"node" validate:"required,node_name"`
	Thread string `json:"thread" validate:"omitempty,thread_id"`
	Limit  int    `json:"limit" validate:"gte=0,lte=10"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name   string
		in     sample
		fields []string
	}{
		{"valid", sample{Node: "review", Thread: "t-1/inner", Limit: 3}, nil},
		{"missing node", sample{}, []string{"node"}},
		{"reserved node", sample{Node: "__end__"}, []string{"node"}},
		{"bad node chars", sample{Node: "a b"}, []string{"node"}},
		{"thread traversal", sample{Node: "a", Thread: "../etc"}, []string{"thread"}},
		{"limit too high", sample{Node: "a", Limit: 11}, []string{"limit"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(&tt.in)
			if tt.fields == nil {
				require.NoError(t, err)
				return
			}
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, tt.fields, verrs.Fields())
		})
	}
}

func TestVar(t *testing.T) {
	require.NoError(t, Var("thread", "abc", "thread_id"))

	err := Var("thread", "", "thread_id")
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "thread", verrs[0].Field)
	assert.Equal(t, "", verrs[0].Value)
}

func TestStructRejectsNonStruct(t *testing.T) {
	err := Struct(nil)
	require.Error(t, err)
	var verrs ValidationErrors
	assert.False(t, errors.As(err, &verrs), "validator usage errors pass through unformatted")
}

func TestIsNodeName(t *testing.T) {
	assert.True(t, IsNodeName("prepare"))
	assert.True(t, IsNodeName("sub:step-1"))
	assert.False(t, IsNodeName(""))
	assert.False(t, IsNodeName("__end__"))
	assert.False(t, IsNodeName("has space"))
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"node":"a","limit":2}`))
		rec := httptest.NewRecorder()

		v, ok := DecodeJSON[sample](rec, req)
		require.True(t, ok)
		assert.Equal(t, "a", v.Node)
	})

	t.Run("invalid field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"node":"a","limit":50}`))
		rec := httptest.NewRecorder()

		_, ok := DecodeJSON[sample](rec, req)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"limit"`)
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		rec := httptest.NewRecorder()

		_, ok := DecodeJSON[sample](rec, req)
		assert.False(t, ok)
		assert.Contains(t, rec.Body.String(), "invalid JSON")
	})
}

func TestValidationErrorsMessage(t *testing.T) {
	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
	errs := ValidationErrors{{Field: "a", Message: "bad", Value: 1}}
	assert.Contains(t, errs.Error(), "field 'a': bad")
}
