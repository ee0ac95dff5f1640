package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

// localSessionID is the session identity for tools running over stdio.
// There is no remote caller to authenticate; every search submitted
// through this process belongs to the same trusted local session.
const localSessionID = "mcp-local"

// handleSearchRestaurants implements the search_restaurants tool
func handleSearchRestaurants(searchService interfaces.SearchService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Parse query parameter (required)
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: query parameter is required"),
				},
			}, nil
		}

		// Parse limit (default: 10, max: 20)
		limit := request.GetInt("limit", 10)
		if limit > 20 {
			limit = 20
		}
		if limit < 1 {
			limit = 1
		}

		req := &models.SearchRequest{
			Query:             query,
			AssistantLanguage: request.GetString("language", ""),
		}

		// Coordinates are only honored as a pair
		args := request.GetArguments()
		_, hasLat := args["latitude"]
		_, hasLng := args["longitude"]
		if hasLat && hasLng {
			lat := request.GetFloat("latitude", 0)
			lng := request.GetFloat("longitude", 0)
			req.Latitude = &lat
			req.Longitude = &lng
		}

		// Execute the pipeline synchronously
		resp, err := searchService.SearchSync(ctx, localSessionID, req)
		if err != nil {
			logger.Error().Err(err).Str("query", query).Msg("Search failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Search error: %v", err)),
				},
			}, nil
		}

		// Format results as markdown
		markdown := formatSearchResponse(resp, limit)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}

// handleRecentSearches implements the recent_searches tool
func handleRecentSearches(searchService interfaces.SearchService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Parse limit (default: 10)
		limit := request.GetInt("limit", 10)

		recent, err := searchService.ListSessionJobs(ctx, localSessionID, limit)
		if err != nil {
			logger.Error().Err(err).Msg("Listing recent searches failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Error listing searches: %v", err)),
				},
			}, nil
		}

		// Format as markdown
		markdown := formatRecentSearches(recent)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}
