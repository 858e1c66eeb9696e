// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eds331/musclepro-app/services/agent"
	"github.com/eds331/musclepro-app/services/agent/handlers"
)

// SetupRoutes mounts the agent API on the router.
func SetupRoutes(router *gin.Engine, a *agent.Agent) {
	router.Use(handlers.LoopbackOnly())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/profile", handlers.GetProfile(a))
		v1.PUT("/profile", handlers.PutProfile(a))

		session := v1.Group("/session")
		{
			session.POST("/login", handlers.Login(a))
			session.POST("/logout", handlers.Logout(a))
		}

		sync := v1.Group("/sync")
		{
			sync.GET("/status", handlers.SyncStatus(a))
			sync.POST("/now", handlers.SyncNow(a))
			sync.GET("/events", handlers.SyncEvents(a))
		}

		v1.GET("/config", handlers.GetConfig(a))
		v1.PUT("/config", handlers.PutConfig(a))
	}
}
