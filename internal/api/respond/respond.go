package respond

import (
	"io"
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// Success wraps the payload of a successful response.
type Success struct {
	Result any `json:"result"`
}

// Error is the body of every failed response.
type Error struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// File streams a stored file from reader with the given content type.
// The length is unknown because storage backends stream their objects.
func File(c *ginext.Context, status int, contentType string, reader io.Reader) {
	c.DataFromReader(status, -1, contentType, reader, nil)
}

// OK sends a 200 response with result.
func OK(c *ginext.Context, result any) {
	c.JSON(http.StatusOK, Success{Result: result})
}

// Created sends a 201 response with result.
func Created(c *ginext.Context, result any) {
	c.JSON(http.StatusCreated, Success{Result: result})
}

// Fail sends an error response with the given status.
func Fail(c *ginext.Context, status int, err error) {
	c.JSON(status, Error{Message: err.Error(), Status: status})
}
