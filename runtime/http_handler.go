package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewHttpHandler mounts the app's HTTP surface on a gin engine:
//
//	GET  /rules                    list registered rules
//	POST /rules/:rule/:flow        run one flow of one rule
//	POST /aggregate/:flow          fan one flow out over several rules
func NewHttpHandler(app *App, g *gin.Engine) {
	g.GET("/rules", handleListRules(app))
	g.POST("/rules/:rule/:flow", handleExecute(app))
	g.POST("/aggregate/:flow", handleAggregate(app))
}

func handleListRules(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules := make([]gin.H, 0, len(app.Runtimes))
		for _, name := range app.RuleNames() {
			rt := app.Runtimes[name]
			rules = append(rules, gin.H{
				"name":       name,
				"domain":     rt.Rule().Meta.Domain,
				"media_type": rt.Rule().Meta.MediaType,
			})
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

func handleExecute(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		rt, ok := app.Runtime(c.Param("rule"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "unknown rule: " + c.Param("rule")})
			return
		}
		params, ok := readParams(c)
		if !ok {
			return
		}

		res, err := rt.Execute(c.Request.Context(), FlowKind(c.Param("flow")), params)
		if err != nil {
			app.Services.Logger.Error("flow execution failed",
				"rule", c.Param("rule"),
				"flow", c.Param("flow"),
				"error", err.Error())
			c.JSON(statusFor(err), gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type aggregateParams struct {
	Rules  []string       `json:"rules"`
	Policy string         `json:"policy"`
	Params map[string]any `json:"params"`
}

func handleAggregate(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req aggregateParams
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, wrongBodyFormatRes)
			return
		}

		policy := ContinueOnError
		switch req.Policy {
		case "", "continue_on_error":
		case "fail_fast":
			policy = FailFast
		case "wait_all":
			policy = WaitAll
		default:
			c.JSON(http.StatusBadRequest, gin.H{"message": "unknown policy: " + req.Policy})
			return
		}

		agg, err := app.Aggregator(req.Rules, policy)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
			return
		}
		res, err := agg.Execute(c.Request.Context(), FlowKind(c.Param("flow")), req.Params)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"message": err.Error(), "errors": errorStrings(res)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": res.Results, "errors": errorStrings(res)})
	}
}

var wrongBodyFormatRes = gin.H{"message": "Wrong request body format"}

// readParams reads an optional JSON object body as flow parameters.
func readParams(c *gin.Context) (map[string]any, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, wrongBodyFormatRes)
		return nil, false
	}
	if len(body) == 0 {
		return map[string]any{}, true
	}
	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		c.JSON(http.StatusBadRequest, wrongBodyFormatRes)
		return nil, false
	}
	return params, true
}

func statusFor(err error) int {
	var fe *FlowError
	if errors.As(err, &fe) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorStrings(res *AggregateResult) []string {
	if res == nil {
		return nil
	}
	out := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		out = append(out, e.Error())
	}
	return out
}
