// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the agent's loopback HTTP API.
package handlers

import (
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eds331/musclepro-app/services/agent"
	"github.com/eds331/musclepro-app/services/cloudstore"
	"github.com/eds331/musclepro-app/services/profile"
)

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// LoopbackOnly rejects any request not originating on this machine. The
// agent holds a whole account's data and must never be reachable from
// the network.
func LoopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unparseable remote address"})
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "loopback clients only"})
			return
		}
		c.Next()
	}
}

// GetProfile serves the current in-memory aggregate.
func GetProfile(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := a.Profile()
		if err != nil {
			abortSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// PutProfile replaces the aggregate wholesale. The agent stamps the
// mutation timestamp and schedules a debounced sync; the response body
// is the stamped aggregate the client should keep.
func PutProfile(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		var u profile.User
		if err := c.ShouldBindJSON(&u); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile payload: " + err.Error()})
			return
		}
		updated, err := a.UpdateProfile(&u)
		if err != nil {
			if errors.Is(err, agent.ErrNoSession) || errors.Is(err, agent.ErrNotReady) {
				abortSessionError(c, err)
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

type loginRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Login starts (or resumes) a session for the given owner and returns
// the loaded aggregate.
func Login(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid login payload: " + err.Error()})
			return
		}
		u, err := a.Login(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// Logout flushes pending edits and ends the session.
func Logout(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Logout(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// SyncStatus reports the tri-state indicator and the last outcome.
func SyncStatus(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Status())
	}
}

// SyncNow forces an immediate reconcile and returns its outcome.
func SyncNow(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome, err := a.SyncNow(c.Request.Context())
		if err != nil {
			abortSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

// GetConfig serves the active configuration with credentials masked.
func GetConfig(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.ConfigRedacted())
	}
}

// PutConfig validates and activates a new cloud backend configuration.
func PutConfig(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cc cloudstore.Config
		if err := c.ShouldBindJSON(&cc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config payload: " + err.Error()})
			return
		}
		if err := a.ApplyCloudConfig(c.Request.Context(), cc); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, a.ConfigRedacted())
	}
}

func abortSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agent.ErrNoSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, agent.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
