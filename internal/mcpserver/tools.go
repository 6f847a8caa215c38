package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions. Descriptions are what the LLM reads to pick a tool.

var ToolPredictCardioRisk = mcp.NewTool("predict_cardio_risk",
	mcp.WithDescription(
		"Estimate a patient's cardiovascular disease risk. "+
			"Returns the risk class, a 0-100 confidence, BMI, and which estimator answered "+
			"(the remote model, or the built-in heuristic when the model is unavailable). "+
			"The prediction is stored and shows up in list_predictions and get_statistics."),
	mcp.WithNumber("age", mcp.Required(), mcp.Description("Age in years (1-120)")),
	mcp.WithNumber("gender", mcp.Required(), mcp.Description("1 = female, 2 = male")),
	mcp.WithNumber("height", mcp.Required(), mcp.Description("Height in cm (100-250)")),
	mcp.WithNumber("weight", mcp.Required(), mcp.Description("Weight in kg (30-200)")),
	mcp.WithNumber("ap_hi", mcp.Required(), mcp.Description("Systolic blood pressure in mmHg (80-250)")),
	mcp.WithNumber("ap_lo", mcp.Required(), mcp.Description("Diastolic blood pressure in mmHg (40-150)")),
	mcp.WithNumber("cholesterol", mcp.Required(),
		mcp.Description("Cholesterol: 1 = normal, 2 = above normal, 3 = well above normal")),
	mcp.WithNumber("gluc", mcp.Required(),
		mcp.Description("Glucose: 1 = normal, 2 = above normal, 3 = well above normal")),
	mcp.WithBoolean("smoke", mcp.Required(), mcp.Description("Whether the patient smokes")),
	mcp.WithBoolean("alco", mcp.Required(), mcp.Description("Whether the patient drinks alcohol")),
	mcp.WithBoolean("active", mcp.Required(), mcp.Description("Whether the patient is physically active")),
)

var ToolListPredictions = mcp.NewTool("list_predictions",
	mcp.WithDescription(
		"List stored predictions, newest first. "+
			"Optionally filter by risk level or gender."),
	mcp.WithNumber("page", mcp.Description("Page number, starting at 1 (default 1)")),
	mcp.WithNumber("limit", mcp.Description("Results per page, at most 100 (default 10)")),
	mcp.WithString("risk_level",
		mcp.Description("Only return high or low risk predictions"),
		mcp.Enum("high", "low")),
	mcp.WithString("gender",
		mcp.Description("Only return predictions for this gender"),
		mcp.Enum("female", "male")),
)

var ToolGetStatistics = mcp.NewTool("get_statistics",
	mcp.WithDescription(
		"Get aggregate statistics over every stored prediction: totals, high-risk rate, "+
			"gender split, average age and BMI, and how many came from the fallback heuristic."),
)

var ToolCheckModelHealth = mcp.NewTool("check_model_health",
	mcp.WithDescription(
		"Check whether the remote ML model behind the gateway is reachable. "+
			"When it is down, predictions still work but use the heuristic."),
)
