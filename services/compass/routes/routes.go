// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/handlers"
)

// SetupRoutes wires the REST surface and the realtime channel onto router.
func SetupRoutes(router *gin.Engine, deps handlers.Deps) {
	router.GET("/health", handlers.HandleHealth())

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/repos/analyze", handlers.HandleAnalyzeRepo(deps))
		v1.POST("/ingest", handlers.HandleIngest(deps))
		v1.POST("/search", handlers.HandleSearch(deps))
		v1.DELETE("/index/:owner/:repo", handlers.HandlePurgeIndex(deps))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:id", handlers.HandleGetSession(deps))
			sessions.GET("/:id/ws", handlers.HandleSessionWebSocket(deps.Manager, deps.Chat))
			sessions.POST("/:id/message", handlers.HandleSendMessage(deps))
			sessions.POST("/:id/plan", handlers.HandleStudyPlan(deps))
			sessions.POST("/:id/flashcards", handlers.HandleFlashcards(deps))
		}
	}
}
