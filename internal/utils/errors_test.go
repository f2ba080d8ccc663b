package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestE_WrapsAndFormats(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := E(CodeUnavailable, "detector.GradioSpace.Classify", "space unreachable", base)

	assert.Equal(t, "detector.GradioSpace.Classify: space unreachable: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestIsCode(t *testing.T) {
	err := E(CodeTimeout, "op", "took too long", nil)

	assert.True(t, IsCode(err, CodeTimeout))
	assert.False(t, IsCode(err, CodeNotFound))
	assert.False(t, IsCode(errors.New("plain"), CodeTimeout))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsCode(wrapped, CodeTimeout))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(E(CodeInvalidArgument, "", "", nil)))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(E(CodeNotFound, "", "", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(E(CodeUnavailable, "", "", nil)))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(E(CodeTimeout, "", "", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(E(CodeInternal, "", "", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}
