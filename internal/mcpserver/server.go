package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported in the MCP handshake.
const Version = "0.1.0"

// NewMCPServer creates an MCP server with every gateway tool registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("cardiorisk", Version)
	h := NewHandlers(NewGatewayClient(cfg))

	s.AddTool(ToolPredictCardioRisk, h.HandlePredict)
	s.AddTool(ToolListPredictions, h.HandleListPredictions)
	s.AddTool(ToolGetStatistics, h.HandleGetStatistics)
	s.AddTool(ToolCheckModelHealth, h.HandleCheckModelHealth)

	return s
}
