// Package respond writes JSON bodies and the error envelope for the API.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSON writes a JSON response with the given status.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// OK writes a 200 OK JSON response.
func OK(c *gin.Context, payload any) {
	JSON(c, http.StatusOK, payload)
}

// Created writes a 201 for a newly created resource.
func Created(c *gin.Context, payload any) {
	JSON(c, http.StatusCreated, payload)
}

// Idempotent writes 201 when the request created the resource and 200
// when it resolved to one that already existed, such as a re-uploaded
// document.
func Idempotent(c *gin.Context, created bool, payload any) {
	if created {
		Created(c, payload)
		return
	}
	OK(c, payload)
}

// NoContent ends a successful delete.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
	c.Writer.WriteHeaderNow()
}
