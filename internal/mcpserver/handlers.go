package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// patientFields are the predict arguments forwarded to the gateway.
var patientFields = []string{
	"age", "gender", "height", "weight", "ap_hi", "ap_lo",
	"cholesterol", "gluc", "smoke", "alco", "active",
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GatewayClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GatewayClient) *Handlers {
	return &Handlers{client: client}
}

// HandlePredict submits one patient for a risk estimate.
func (h *Handlers) HandlePredict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	body := make(map[string]any, len(patientFields))
	var missing []string
	for _, f := range patientFields {
		v, ok := args[f]
		if !ok || v == nil {
			missing = append(missing, f)
			continue
		}
		body[f] = v
	}
	if len(missing) > 0 {
		return mcp.NewToolResultError("missing required fields: " + strings.Join(missing, ", ")), nil
	}

	raw, err := h.client.Predict(ctx, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Prediction failed: %v", err)), nil
	}

	text, err := formatPrediction(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse prediction: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListPredictions lists stored predictions.
func (h *Handlers) HandleListPredictions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := ListOptions{
		Page:      req.GetInt("page", 0),
		Limit:     req.GetInt("limit", 0),
		RiskLevel: req.GetString("risk_level", ""),
		Gender:    req.GetString("gender", ""),
	}

	raw, err := h.client.ListPredictions(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list predictions: %v", err)), nil
	}

	text, err := formatPredictionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse predictions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetStatistics returns aggregate statistics.
func (h *Handlers) HandleGetStatistics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetStatistics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get statistics: %v", err)), nil
	}

	text, err := formatStatistics(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse statistics: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCheckModelHealth reports whether the remote model is reachable.
func (h *Handlers) HandleCheckModelHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ModelHealth(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check model health: %v", err)), nil
	}

	text, err := formatModelHealth(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse model health: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type predictionView struct {
	Risk        int     `json:"risk"`
	Confidence  int     `json:"confidence"`
	Probability float64 `json:"probability"`
	RiskLabel   string  `json:"risk_label"`
	BMI         float64 `json:"bmi"`
	Source      string  `json:"source"`
}

type insightsView struct {
	RiskLevel      string `json:"risk_level"`
	BMICategory    string `json:"bmi_category"`
	Interpretation string `json:"interpretation"`
	Recommendation string `json:"recommendation"`
}

func formatPrediction(raw json.RawMessage) (string, error) {
	var resp struct {
		Prediction predictionView `json:"prediction"`
		Patient    struct {
			BloodPressure string `json:"blood_pressure"`
		} `json:"patient_data"`
		Insights  *insightsView `json:"ml_insights"`
		Saved     bool          `json:"saved"`
		SessionID string        `json:"session_id"`
		Message   string        `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	p := resp.Prediction
	var sb strings.Builder
	fmt.Fprintf(&sb, "Result: %s (confidence %d%%)\n", p.RiskLabel, p.Confidence)
	fmt.Fprintf(&sb, "BMI: %.1f\n", p.BMI)
	if resp.Patient.BloodPressure != "" {
		fmt.Fprintf(&sb, "Blood pressure: %s\n", resp.Patient.BloodPressure)
	}
	fmt.Fprintf(&sb, "Estimator: %s\n", sourceLabel(p.Source))

	if in := resp.Insights; in != nil {
		if in.BMICategory != "" {
			fmt.Fprintf(&sb, "BMI category: %s\n", in.BMICategory)
		}
		if in.Interpretation != "" {
			fmt.Fprintf(&sb, "Interpretation: %s\n", in.Interpretation)
		}
		if in.Recommendation != "" {
			fmt.Fprintf(&sb, "Recommendation: %s\n", in.Recommendation)
		}
	}

	if resp.Saved {
		fmt.Fprintf(&sb, "Saved as session %s", resp.SessionID)
	} else {
		sb.WriteString("Not saved: the prediction store is unavailable")
	}
	return sb.String(), nil
}

func formatPredictionList(raw json.RawMessage) (string, error) {
	var resp struct {
		Data []struct {
			predictionView
			SessionID string    `json:"session_id"`
			Age       int       `json:"age"`
			Gender    int       `json:"gender"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			Total      int `json:"total"`
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Data) == 0 {
		return "No predictions found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d predictions (page %d of %d):\n\n",
		resp.Pagination.Total, resp.Pagination.Page, resp.Pagination.TotalPages)
	for i, r := range resp.Data {
		fmt.Fprintf(&sb, "%d. %s  %s, confidence %d%%\n", i+1,
			r.CreatedAt.UTC().Format(time.RFC3339), r.RiskLabel, r.Confidence)
		fmt.Fprintf(&sb, "   Age %d, %s, via %s\n", r.Age, genderLabel(r.Gender), sourceLabel(r.Source))
		fmt.Fprintf(&sb, "   Session: %s\n", r.SessionID)
	}
	return sb.String(), nil
}

func formatStatistics(raw json.RawMessage) (string, error) {
	var resp struct {
		Statistics struct {
			Total    int `json:"total"`
			HighRisk int `json:"high_risk"`
			LowRisk  int `json:"low_risk"`
			ByGender struct {
				Female int `json:"female"`
				Male   int `json:"male"`
			} `json:"by_gender"`
			BySource struct {
				Remote    int `json:"remote"`
				Heuristic int `json:"heuristic"`
			} `json:"by_source"`
			AverageAge   float64 `json:"average_age"`
			AverageBMI   float64 `json:"average_bmi"`
			HighRiskRate float64 `json:"high_risk_rate"`
		} `json:"statistics"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	s := resp.Statistics
	if s.Total == 0 {
		return "No predictions recorded yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Total predictions: %d\n", s.Total)
	fmt.Fprintf(&sb, "High risk: %d (%.1f%%)\n", s.HighRisk, s.HighRiskRate)
	fmt.Fprintf(&sb, "Low risk: %d\n", s.LowRisk)
	fmt.Fprintf(&sb, "Female: %d, Male: %d\n", s.ByGender.Female, s.ByGender.Male)
	fmt.Fprintf(&sb, "Average age: %.1f\n", s.AverageAge)
	fmt.Fprintf(&sb, "Average BMI: %.1f\n", s.AverageBMI)
	fmt.Fprintf(&sb, "From ML model: %d, from heuristic: %d", s.BySource.Remote, s.BySource.Heuristic)
	return sb.String(), nil
}

func formatModelHealth(raw json.RawMessage) (string, error) {
	var resp struct {
		Status     string          `json:"status"`
		URL        string          `json:"ml_service_url"`
		Error      string          `json:"error"`
		Class      string          `json:"class"`
		StatusCode int             `json:"status_code"`
		Service    json.RawMessage `json:"ml_service"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ML service: %s\n", resp.Status)
	fmt.Fprintf(&sb, "URL: %s\n", resp.URL)
	if resp.Status != "reachable" {
		reason := resp.Class
		if reason == "" {
			reason = resp.Error
		}
		fmt.Fprintf(&sb, "Failure: %s", reason)
		if resp.StatusCode != 0 {
			fmt.Fprintf(&sb, " (HTTP %d)", resp.StatusCode)
		}
		sb.WriteString("\nPredictions are served by the fallback heuristic.\n")
	}
	if len(resp.Service) > 0 && string(resp.Service) != "null" {
		fmt.Fprintf(&sb, "\nReported:\n%s", formatJSON(resp.Service))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func sourceLabel(source string) string {
	if source == "heuristic" {
		return "fallback heuristic"
	}
	return "ML model"
}

func genderLabel(g int) string {
	switch g {
	case 1:
		return "female"
	case 2:
		return "male"
	default:
		return "unknown"
	}
}

func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
