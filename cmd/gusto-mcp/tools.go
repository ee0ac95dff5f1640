package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createSearchRestaurantsTool returns the search_restaurants tool definition
func createSearchRestaurantsTool() mcp.Tool {
	return mcp.NewTool("search_restaurants",
		mcp.WithDescription("Search for restaurants with a natural-language query. Runs the full search pipeline synchronously and returns ranked results."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Restaurant query in any language (e.g. \"cheap ramen near the station\")"),
		),
		mcp.WithNumber("latitude",
			mcp.Description("User latitude for location-biased results (only honored together with longitude)"),
		),
		mcp.WithNumber("longitude",
			mcp.Description("User longitude for location-biased results (only honored together with latitude)"),
		),
		mcp.WithString("language",
			mcp.Description("Assistant language as a BCP 47 tag (e.g. en, ja, de-AT); detected from the query when omitted"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default: 10, max: 20)"),
		),
	)
}

// createRecentSearchesTool returns the recent_searches tool definition
func createRecentSearchesTool() mcp.Tool {
	return mcp.NewTool("recent_searches",
		mcp.WithDescription("List recent restaurant searches submitted through this server, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Max searches to return (default: 10)"),
		),
	)
}
